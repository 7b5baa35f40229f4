package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	var mkdir bool

	cmd := &cobra.Command{
		Use:   "upload <local-path> <remote-dir>",
		Short: "Upload a file or directory tree",
		Long: `Upload a local file or directory into a remote directory over SFTP.

A file is written to <remote-dir>/<name>. For a directory its contents are
copied recursively into <remote-dir>; the directory itself is not recreated
there. The remote directory must exist unless --mkdir is given.`,
		Example: `  # ./build/index.html lands at /opt/app/releases/index.html
  sshexec upload ./build /opt/app/releases
  sshexec upload --mkdir ./app.env /etc/app`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPath, remoteDir := args[0], args[1]

			if _, err := os.Stat(localPath); err != nil {
				return &ExitError{Code: ExitCodeUsage, Err: err}
			}

			return a.withRemote(cmd.Context(), func(remote Remote) error {
				if mkdir {
					return remote.UploadTo(cmd.Context(), localPath, remoteDir)
				}
				return remote.Upload(cmd.Context(), localPath, remoteDir)
			})
		},
	}

	cmd.Flags().BoolVar(&mkdir, "mkdir", false, "create the remote directory and its parents first")
	return cmd
}

func newMkdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <remote-dir>",
		Short: "Create a remote directory and its parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd.Context(), func(remote Remote) error {
				return remote.EnsureDirectory(cmd.Context(), args[0])
			})
		},
	}
}
