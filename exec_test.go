package sshexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_StreamsOutput(t *testing.T) {
	session := newFakeSession(exitWith(0, "hello\r\n"))
	client := newFakeClient(t, session)

	var lines []string
	status, err := client.Execute(context.Background(), "echo hello", func(line string) {
		lines = append(lines, line)
	})

	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, []string{"hello"}, lines)

	ch := session.lastExec(t)
	assert.Equal(t, "echo hello", ch.cmd)
	assert.Equal(t, []bool{true}, session.ptyRequested, "commands run on a pty")
	assert.Equal(t, 1, ch.closeCalls)
}

func TestExecute_OutputArrivingInPieces(t *testing.T) {
	script := func(ch *fakeExecChannel) {
		for _, piece := range []string{"fir", "st\r\nsec", "ond\r\n", "third"} {
			ch.write(piece)
			time.Sleep(5 * time.Millisecond)
		}
		ch.exit(3)
	}
	client := newFakeClient(t, newFakeSession(script))
	client.pollInterval = time.Millisecond

	var lines []string
	status, err := client.Execute(context.Background(), "multi", func(line string) {
		lines = append(lines, line)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, status)
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestExecute_NilConsumer(t *testing.T) {
	client := newFakeClient(t, newFakeSession(exitWith(0, "ignored\n")))

	status, err := client.Execute(context.Background(), "true", nil)

	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestExecute_Timeout(t *testing.T) {
	session := newFakeSession(hangUntilClosed("started\r\n"))
	client := newFakeClient(t, session)
	client.pollInterval = time.Millisecond
	client.SetExecTimeout(50 * time.Millisecond)

	var lines []string
	start := time.Now()
	_, err := client.Execute(context.Background(), "sleep 100", func(line string) {
		lines = append(lines, line)
	})

	assert.ErrorIs(t, err, ErrExecTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"started"}, lines, "output seen before the timeout is delivered")
	assert.Equal(t, 1, session.lastExec(t).closeCalls, "timed out channel is closed")
}

func TestExecute_ContextCancelled(t *testing.T) {
	session := newFakeSession(hangUntilClosed())
	client := newFakeClient(t, session)
	client.pollInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Execute(ctx, "sleep 100", nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrExecTimeout)
	assert.Equal(t, 1, session.lastExec(t).closeCalls)
}

func TestExecute_SessionNotOpen(t *testing.T) {
	client, err := New(newTestConfig(t))
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), "echo hi", nil)
	assert.ErrorIs(t, err, ErrSessionNotOpen)
	assert.ErrorIs(t, err, ErrChannelState)

	session := newFakeSession()
	client = newFakeClient(t, session)
	session.connected = false
	_, err = client.Execute(context.Background(), "echo hi", nil)
	assert.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestExecute_OpenFailure(t *testing.T) {
	session := newFakeSession()
	session.openExecErr = errors.New("administratively prohibited")
	client := newFakeClient(t, session)

	_, err := client.Execute(context.Background(), "echo hi", nil)

	assert.ErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "administratively prohibited")
}

func TestExecute_OpenTimeout(t *testing.T) {
	session := newFakeSession()
	session.blockOpenExec = true
	config := newTestConfig(t)
	config.ExecConnectTimeout = 20 * time.Millisecond
	client := NewClientWithSession(config, session, nil)

	_, err := client.Execute(context.Background(), "echo hi", nil)

	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_StartFailureClosesChannel(t *testing.T) {
	session := newFakeSession()
	session.startErr = errors.New("exec request rejected")
	client := newFakeClient(t, session)

	_, err := client.Execute(context.Background(), "echo hi", nil)

	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 1, session.lastExec(t).closeCalls)
}

func TestExecute_LogsExecutionID(t *testing.T) {
	var logs testLogBuffer
	logger := zerolog.New(&logs).Level(zerolog.DebugLevel)
	config := newTestConfig(t)
	config.Logger = &logger
	client := NewClientWithSession(config, newFakeSession(exitWith(0)), nil)

	_, err := client.Execute(context.Background(), "uptime", nil)
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, `"exec_id":"`)
	assert.Contains(t, out, `"cmd":"uptime"`)
	assert.Equal(t, 1, logs.count("command finished"))
}

func TestRun(t *testing.T) {
	client := newFakeClient(t, newFakeSession(exitWith(0, "a\r\n", "b\r\n")))

	lines, err := client.Run(context.Background(), "printf 'a\\nb\\n'")

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestRun_UnexpectedExitStatus(t *testing.T) {
	client := newFakeClient(t, newFakeSession(exitWith(7, "boom\r\n")))

	lines, err := client.Run(context.Background(), "exit 7")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedExitStatus)

	var exitErr *ExitStatusError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.ExitStatus)
	assert.Equal(t, "exit 7", exitErr.Command)
	assert.Equal(t, []string{"boom"}, exitErr.Output)
	assert.Equal(t, []string{"boom"}, lines)
	assert.True(t, strings.Contains(err.Error(), "7"))
}

func TestRunExpect(t *testing.T) {
	session := newFakeSession(exitWith(1, "no match\r\n"), exitWith(0))
	client := newFakeClient(t, session)

	lines, err := client.RunExpect(context.Background(), "grep x /dev/null", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"no match"}, lines)

	_, err = client.RunExpect(context.Background(), "true", 1)
	var exitErr *ExitStatusError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 0, exitErr.ExitStatus)
}

func TestExecute_SequentialCommandsUseFreshChannels(t *testing.T) {
	session := newFakeSession(exitWith(0, "1\n"), exitWith(0, "2\n"))
	client := newFakeClient(t, session)

	first, err := client.Run(context.Background(), "echo 1")
	require.NoError(t, err)
	second, err := client.Run(context.Background(), "echo 2")
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, first)
	assert.Equal(t, []string{"2"}, second)
	require.Len(t, session.execs, 2)
	assert.NotSame(t, session.execs[0], session.execs[1])
}
