package sshexec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid ssh client config")

	// ErrAuthFailed is returned when the server rejects the configured credentials.
	ErrAuthFailed = errors.New("ssh authentication failed")

	// ErrConnection is returned when a session or channel cannot be opened
	// for any reason other than rejected credentials.
	ErrConnection = errors.New("ssh connection failed")

	// ErrExecTimeout is returned when a command does not finish within the
	// client's execution timeout.
	ErrExecTimeout = errors.New("command execution timed out")

	// ErrUnexpectedExitStatus matches every *ExitStatusError.
	ErrUnexpectedExitStatus = errors.New("unexpected exit status")

	// ErrChannelState is the parent of all "not open" conditions.
	ErrChannelState = errors.New("channel state error")

	// ErrSessionNotOpen is returned when an operation needs a connected session.
	ErrSessionNotOpen = fmt.Errorf("%w: ssh session is not open", ErrChannelState)

	// ErrTransferChannelNotOpen is returned when the sftp channel is required but closed.
	ErrTransferChannelNotOpen = fmt.Errorf("%w: sftp channel is not open", ErrChannelState)

	// ErrNoSuchPath is returned when an upload targets a remote directory that does not exist.
	ErrNoSuchPath = fmt.Errorf("%w: no such path", ErrChannelState)

	// ErrTransfer wraps any failure while creating directories or uploading files.
	ErrTransfer = errors.New("file transfer failed")
)

// ExitStatusError reports a command that finished with a status other than
// the one the caller expected. Output holds every line the command printed.
type ExitStatusError struct {
	Command    string
	ExitStatus int
	Output     []string
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("unexpected exit status %d: %s", e.ExitStatus, e.Command)
}

// Is lets errors.Is(err, ErrUnexpectedExitStatus) match.
func (e *ExitStatusError) Is(target error) bool {
	return target == ErrUnexpectedExitStatus
}

// isAuthError reports whether a handshake error came from rejected credentials.
// x/crypto/ssh does not export a typed error for this case.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}
