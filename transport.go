package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Session is an authenticated connection that channels are opened on.
// It abstracts *ssh.Client so the execution and transfer logic can be tested
// without a server.
type Session interface {
	// OpenExec opens a channel for one command. With pty set the remote side
	// allocates a terminal, so closing the channel hangs up the command.
	OpenExec(ctx context.Context, pty bool) (ExecChannel, error)
	// OpenTransfer opens an sftp channel.
	OpenTransfer(ctx context.Context) (TransferChannel, error)
	// IsConnected reports whether the transport is still up.
	IsConnected() bool
	// Close tears down the transport.
	Close() error
}

// ExecChannel runs a single remote command.
type ExecChannel interface {
	Start(cmd string) error
	// Output is the merged stdout/stderr stream of the command.
	Output() ByteSource
	// IsClosed reports whether the remote command has finished and all of
	// its output has been delivered to Output.
	IsClosed() bool
	// ExitStatus is only valid once IsClosed reports true.
	ExitStatus() (int, error)
	Close() error
}

// TransferChannel is the subset of sftp operations the transfer engine needs.
type TransferChannel interface {
	Stat(path string) (os.FileInfo, error)
	Mkdir(path string) error
	Create(path string) (io.WriteCloser, error)
	// IsClosed reports whether the channel was closed, by either side.
	IsClosed() bool
	Close() error
}

// sshSession adapts *ssh.Client to Session.
type sshSession struct {
	client    *ssh.Client
	closed    chan struct{}
	markOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

var _ Session = (*sshSession)(nil)

func newSSHSession(client *ssh.Client) *sshSession {
	s := &sshSession{
		client: client,
		closed: make(chan struct{}),
	}
	go func() {
		_ = client.Wait()
		s.markClosed()
	}()
	return s
}

func (s *sshSession) markClosed() {
	s.markOnce.Do(func() { close(s.closed) })
}

func (s *sshSession) IsConnected() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		wasConnected := s.IsConnected()
		s.markClosed()
		if err := s.client.Close(); err != nil && wasConnected {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func (s *sshSession) OpenExec(ctx context.Context, pty bool) (ExecChannel, error) {
	sess, err := awaitOpen(ctx, func() (*ssh.Session, error) {
		sess, err := s.client.NewSession()
		if err != nil {
			return nil, err
		}
		if pty {
			modes := ssh.TerminalModes{ssh.ECHO: 0, ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
			if err := sess.RequestPty("xterm", 40, 80, modes); err != nil {
				sess.Close()
				return nil, fmt.Errorf("failed to request pty: %w", err)
			}
		}
		return sess, nil
	}, func(sess *ssh.Session) { sess.Close() })
	if err != nil {
		return nil, err
	}
	return newSSHExecChannel(sess), nil
}

func (s *sshSession) OpenTransfer(ctx context.Context) (TransferChannel, error) {
	client, err := awaitOpen(ctx, func() (*sftp.Client, error) {
		return sftp.NewClient(s.client)
	}, func(c *sftp.Client) { c.Close() })
	if err != nil {
		return nil, err
	}
	return newSFTPTransfer(client), nil
}

// awaitOpen runs a blocking open call and gives up when ctx is done. A result
// that arrives after the deadline is released with discard.
func awaitOpen[T any](ctx context.Context, open func() (T, error), discard func(T)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := open()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				discard(r.value)
			}
		}()
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}

// sshExecChannel adapts *ssh.Session to ExecChannel. Stdout and stderr are
// copied by x/crypto/ssh into one buffer; Session.Wait returns only after
// those copies are done, so closure implies the output is complete.
type sshExecChannel struct {
	session   *ssh.Session
	output    *channelBuffer
	done      chan struct{}
	waitErr   error
	started   bool
	closeOnce sync.Once
}

var _ ExecChannel = (*sshExecChannel)(nil)

func newSSHExecChannel(session *ssh.Session) *sshExecChannel {
	output := &channelBuffer{}
	session.Stdout = output
	session.Stderr = output
	return &sshExecChannel{
		session: session,
		output:  output,
		done:    make(chan struct{}),
	}
}

func (c *sshExecChannel) Start(cmd string) error {
	if err := c.session.Start(cmd); err != nil {
		return err
	}
	c.started = true
	go func() {
		c.waitErr = c.session.Wait()
		close(c.done)
	}()
	return nil
}

func (c *sshExecChannel) Output() ByteSource { return c.output }

func (c *sshExecChannel) IsClosed() bool {
	if !c.started {
		return false
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *sshExecChannel) ExitStatus() (int, error) {
	if !c.IsClosed() {
		return -1, errors.New("exit status read before channel closed")
	}
	if c.waitErr == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(c.waitErr, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, c.waitErr
}

func (c *sshExecChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if closeErr := c.session.Close(); closeErr != nil && !errors.Is(closeErr, io.EOF) {
			err = closeErr
		}
	})
	return err
}

// channelBuffer collects channel output written by x/crypto/ssh's copy
// goroutines and exposes it as a ByteSource.
type channelBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *channelBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *channelBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *channelBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Read(p)
}

// sftpTransfer adapts *sftp.Client to TransferChannel.
type sftpTransfer struct {
	client *sftp.Client
	closed chan struct{}
}

var _ TransferChannel = (*sftpTransfer)(nil)

func newSFTPTransfer(client *sftp.Client) *sftpTransfer {
	t := &sftpTransfer{
		client: client,
		closed: make(chan struct{}),
	}
	go func() {
		_ = client.Wait()
		close(t.closed)
	}()
	return t
}

func (t *sftpTransfer) IsClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *sftpTransfer) Stat(path string) (os.FileInfo, error) { return t.client.Stat(path) }
func (t *sftpTransfer) Mkdir(path string) error                { return t.client.Mkdir(path) }
func (t *sftpTransfer) Close() error                           { return t.client.Close() }

func (t *sftpTransfer) Create(path string) (io.WriteCloser, error) {
	return t.client.Create(path)
}
