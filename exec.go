package sshexec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LineConsumer receives command output one line at a time.
type LineConsumer func(line string)

// Execute runs cmd on a fresh pty channel and streams its output to onLine
// until the command exits. It returns the command's exit status.
//
// Execute fails with ErrExecTimeout when the command runs longer than the
// client's execution timeout; closing the pty channel then hangs up the
// remote command. The channel is closed on every return path.
func (c *Client) Execute(ctx context.Context, cmd string, onLine LineConsumer) (int, error) {
	if !c.IsConnected() {
		return -1, ErrSessionNotOpen
	}

	log := c.log.With().Str("exec_id", uuid.NewString()).Str("cmd", cmd).Logger()
	log.Debug().Msg("opening exec channel")

	openCtx, cancel := context.WithTimeout(ctx, c.config.ExecConnectTimeout)
	channel, err := c.session.OpenExec(openCtx, true)
	cancel()
	if err != nil {
		return -1, fmt.Errorf("%w: failed to open exec channel: %w", ErrConnection, err)
	}
	defer func() {
		log.Debug().Msg("closing exec channel")
		if err := channel.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close exec channel")
		}
	}()

	if err := channel.Start(cmd); err != nil {
		return -1, fmt.Errorf("%w: failed to start command %q: %w", ErrConnection, cmd, err)
	}

	start := time.Now()
	timeout := c.execTimeout
	check := func() error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("command %q cancelled: %w", cmd, err)
		}
		if time.Since(start) > timeout {
			return fmt.Errorf("%w: command %q did not finish within %s", ErrExecTimeout, cmd, timeout)
		}
		return nil
	}
	handler := func(lineNum int, line string) error {
		if onLine != nil {
			onLine(line)
		}
		return nil
	}

	if err := ReadLines(channel.Output(), handler, channel.IsClosed, check, c.pollInterval); err != nil {
		log.Debug().Err(err).Msg("command aborted")
		return -1, err
	}

	status, err := channel.ExitStatus()
	if err != nil {
		return -1, fmt.Errorf("failed to read exit status of %q: %w", cmd, err)
	}

	log.Debug().Int("exit_status", status).Dur("elapsed", time.Since(start)).Msg("command finished")
	return status, nil
}

// Run executes cmd and returns its output lines, failing with an
// *ExitStatusError unless the command exits with status 0.
func (c *Client) Run(ctx context.Context, cmd string) ([]string, error) {
	return c.RunExpect(ctx, cmd, 0)
}

// RunExpect executes cmd and returns its output lines, failing with an
// *ExitStatusError unless the command exits with the expected status.
func (c *Client) RunExpect(ctx context.Context, cmd string, expected int) ([]string, error) {
	var lines []string
	status, err := c.Execute(ctx, cmd, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		return lines, err
	}
	if status != expected {
		return lines, &ExitStatusError{
			Command:    cmd,
			ExitStatus: status,
			Output:     lines,
		}
	}
	return lines, nil
}
