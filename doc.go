// Package sshexec runs commands on remote hosts over SSH and uploads files
// and directory trees to them over SFTP.
//
// This package provides:
//   - A Client that owns one SSH session, optionally tunneled through a jump host
//   - Line-by-line streaming of command output with a per-command timeout
//   - Idempotent remote directory creation and recursive uploads
//   - Retry logic with exponential backoff for transient connection failures
//   - Password and private key authentication, with optional known_hosts checking
//
// # Basic Usage
//
// Connect and run a command:
//
//	client, err := sshexec.New(sshexec.Config{
//		Host:    "example.com",
//		User:    "deploy",
//		KeyPath: "~/.ssh/id_ed25519",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Dispose()
//
//	if err := client.Connect(ctx, 30*time.Second); err != nil {
//		log.Fatal(err)
//	}
//
//	status, err := client.Execute(ctx, "systemctl restart app", func(line string) {
//		fmt.Println(line)
//	})
//
// Commands run on a pseudo-terminal, so stdout and stderr arrive as one
// stream. Lines longer than MaxLineLength characters are delivered in
// chunks. When a command outlives the execution timeout (see
// SetExecTimeout) Execute returns ErrExecTimeout and closes the channel,
// which hangs up the remote command.
//
// Run and RunExpect collect the output and turn an unexpected exit status
// into an *ExitStatusError:
//
//	lines, err := client.Run(ctx, "cat /etc/os-release")
//	var exitErr *sshexec.ExitStatusError
//	if errors.As(err, &exitErr) {
//		log.Printf("exit %d: %v", exitErr.ExitStatus, exitErr.Output)
//	}
//
// # File Transfer
//
// The SFTP channel is opened on first use:
//
//	// Create /opt/app/releases and parents as needed.
//	err = client.EnsureDirectory(ctx, "/opt/app/releases")
//
//	// Copy ./build (recursively) into an existing remote directory.
//	err = client.Upload(ctx, "./build", "/opt/app/releases")
//
// # Jump Hosts
//
// Set Config.JumpHost to reach a host that is only accessible through a
// bastion. The jump session is owned by the client and closed by Dispose:
//
//	config.JumpHost = &sshexec.JumpHost{Host: "bastion.example.com", KeyPath: "~/.ssh/bastion"}
//
// # Errors
//
// Failures can be classified with errors.Is against ErrInvalidConfig,
// ErrAuthFailed, ErrConnection, ErrExecTimeout, ErrUnexpectedExitStatus,
// ErrChannelState and ErrTransfer.
//
// A Client is not safe for concurrent use. Use one Client per goroutine.
package sshexec
