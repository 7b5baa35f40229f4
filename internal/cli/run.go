package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var numbered bool

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Run a command on the remote host",
		Long: `Run a command on the remote host and stream its output.

The command runs on a pseudo-terminal, so stdout and stderr are merged into
one stream. sshexec exits with the remote exit status.`,
		Example: `  sshexec run -H build.example.com -u deploy -i ~/.ssh/deploy -- uname -a
  SSHEXEC_HOST=db sshexec run --exec-timeout 5m -- pg_dump app`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			var status int
			err := a.withRemote(cmd.Context(), func(remote Remote) error {
				n := 0
				var err error
				status, err = remote.Execute(cmd.Context(), command, func(line string) {
					n++
					if numbered {
						fmt.Fprintf(out, "%6d  %s\n", n, line)
						return
					}
					fmt.Fprintln(out, line)
				})
				return err
			})
			if err != nil {
				return err
			}

			a.log.Debug().Str("cmd", command).Int("exit_status", status).Msg("remote command exited")
			if status != 0 {
				return &ExitError{Code: status}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&numbered, "number", "n", false, "prefix each output line with its line number")
	return cmd
}
