// Package cli implements the sshexec command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/darshan-rambhia/sshexec"
	"github.com/darshan-rambhia/sshexec/internal/config"
	"github.com/darshan-rambhia/sshexec/internal/logging"
)

const (
	// ExitCodeFailure is returned when connecting or a remote operation fails.
	ExitCodeFailure = 1
	// ExitCodeUsage is returned for invalid arguments or configuration.
	ExitCodeUsage = 2
)

// ExitError carries the process exit code for main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Remote is the part of *sshexec.Client the commands use.
type Remote interface {
	Execute(ctx context.Context, cmd string, onLine sshexec.LineConsumer) (int, error)
	EnsureDirectory(ctx context.Context, remotePath string) error
	Upload(ctx context.Context, localPath, remoteDir string) error
	UploadTo(ctx context.Context, localPath, remoteDir string) error
	Dispose() error
}

// Connector opens a connected Remote for the loaded settings.
type Connector func(ctx context.Context, settings *config.Settings, log zerolog.Logger) (Remote, error)

// app is the state shared by all subcommands of one invocation.
type app struct {
	connect  Connector
	settings *config.Settings
	log      zerolog.Logger
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, version string, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(version, connectClient)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitCodeFailure
}

func newRootCmd(version string, connect Connector) *cobra.Command {
	a := &app{connect: connect}
	var configFile string

	cmd := &cobra.Command{
		Use:   "sshexec",
		Short: "Run commands and upload files over SSH",
		Long: `sshexec runs commands on a remote host over SSH, streaming their output
line by line, and uploads files and directory trees over SFTP.

Settings are read from defaults, a YAML config file, SSHEXEC_* environment
variables and flags, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader()
			loader.SetConfigFile(configFile)
			loader.BindFlags(cmd.Flags())

			settings, err := loader.Load()
			if err != nil {
				return &ExitError{Code: ExitCodeUsage, Err: err}
			}

			a.settings = settings
			a.log = logging.New(logging.Config{
				Level:  settings.Log.Level,
				Format: settings.Log.Format,
				Output: cmd.ErrOrStderr(),
			})
			if used := loader.ConfigFileUsed(); used != "" {
				a.log.Debug().Str("config_file", used).Msg("loaded config file")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $HOME/.config/sshexec/config.yaml)")
	addConnectionFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newRunCmd(a),
		newUploadCmd(a),
		newMkdirCmd(a),
	)

	return cmd
}

// addConnectionFlags registers the flags the config loader binds. Their
// defaults only document the built-in values; unset flags never override
// the config file or environment.
func addConnectionFlags(flags *pflag.FlagSet) {
	defaults := config.DefaultSettings()

	flags.StringP("host", "H", defaults.Host, "remote host")
	flags.IntP("port", "p", defaults.Port, "remote SSH port")
	flags.StringP("user", "u", defaults.User, "remote user")
	flags.String("password", "", "password (prefer SSHEXEC_PASSWORD)")
	flags.StringP("key", "i", "", "private key file")
	flags.String("key-passphrase", "", "passphrase of an encrypted private key")
	flags.Bool("strict-host-key-checking", false, "verify the host key against the known hosts file")
	flags.String("known-hosts", "", "known hosts file (default ~/.ssh/known_hosts)")
	flags.Duration("exec-timeout", defaults.ExecTimeout, "maximum duration of a command")
	flags.Duration("connect-timeout", defaults.ConnectTimeout, "maximum duration of each connection attempt")
	flags.Int("retries", defaults.Retries, "connection retries on transient failures")

	flags.StringP("jump-host", "J", "", "jump host to tunnel the session through")
	flags.Int("jump-port", sshexec.DefaultPort, "jump host SSH port")
	flags.String("jump-user", "", "jump host user (defaults to --user)")
	flags.String("jump-password", "", "jump host password")
	flags.String("jump-key", "", "jump host private key file")

	flags.String("log-level", defaults.Log.Level, "log level (trace, debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log format (console, json)")
}

// withRemote connects, runs fn and disposes of the connection.
func (a *app) withRemote(ctx context.Context, fn func(Remote) error) error {
	remote, err := a.connect(ctx, a.settings, a.log)
	if err != nil {
		code := ExitCodeFailure
		if errors.Is(err, sshexec.ErrInvalidConfig) {
			code = ExitCodeUsage
		}
		return &ExitError{Code: code, Err: err}
	}
	defer func() {
		if err := remote.Dispose(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close connection")
		}
	}()
	return fn(remote)
}

// connectClient is the Connector backed by *sshexec.Client.
func connectClient(ctx context.Context, settings *config.Settings, log zerolog.Logger) (Remote, error) {
	cfg := settings.ClientConfig()
	cfg.Logger = &log

	client, err := sshexec.New(cfg)
	if err != nil {
		return nil, err
	}

	if retry := settings.RetryConfig(); retry.MaxRetries > 0 {
		err = client.ConnectWithRetry(ctx, settings.ConnectTimeout, retry)
	} else {
		err = client.Connect(ctx, settings.ConnectTimeout)
	}
	if err != nil {
		_ = client.Dispose()
		return nil, err
	}
	return client, nil
}
