package sshexec

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client runs commands and transfers files over one SSH session.
//
// A Client owns its session, the optional jump session and the sftp
// channel. It is not safe for concurrent use; open a second Client to run
// commands in parallel.
type Client struct {
	config       Config
	log          zerolog.Logger
	dial         dialFunc
	session      Session
	jump         Session // nil if no jump host
	transfer     TransferChannel
	execTimeout  time.Duration
	pollInterval time.Duration
}

type dialFunc func(ctx context.Context, config Config, log zerolog.Logger) (session, jump Session, err error)

// New validates config and returns a disconnected client. Call Connect
// before running commands.
func New(config Config) (*Client, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Fail on unreadable keys now rather than on Connect.
	if _, err := buildAuthMethod(config.Password, config.KeyPath, config.PrivateKey, config.KeyPassphrase); err != nil {
		return nil, err
	}
	if j := config.JumpHost; j != nil {
		if _, err := buildAuthMethod(j.Password, j.KeyPath, j.PrivateKey, j.KeyPassphrase); err != nil {
			return nil, fmt.Errorf("jump host: %w", err)
		}
	}

	return newClient(config, dialSSH), nil
}

// NewClientWithSession creates a connected Client on top of an existing
// Session implementation. jump may be nil.
// This is primarily used for testing with fake sessions.
func NewClientWithSession(config Config, session, jump Session) *Client {
	c := newClient(config.WithDefaults(), nil)
	c.session = session
	c.jump = jump
	return c
}

func newClient(config Config, dial dialFunc) *Client {
	return &Client{
		config:       config,
		log:          config.Logger.With().Str("host", config.address()).Logger(),
		dial:         dial,
		execTimeout:  config.ExecTimeout,
		pollInterval: DefaultPollInterval,
	}
}

// Connect opens the session, going through the jump host when one is
// configured. A zero timeout means DefaultConnectTimeout. Connecting a
// connected client is a no-op.
//
// Rejected credentials are reported as ErrAuthFailed, every other failure as
// ErrConnection.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	if c.IsConnected() {
		return nil
	}
	if c.dial == nil {
		return fmt.Errorf("%w: client has no dialer", ErrConnection)
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	// A dropped session may leave its sftp channel and jump session behind.
	if c.session != nil || c.jump != nil || c.transfer != nil {
		c.log.Debug().Msg("releasing dropped session before reconnecting")
		_ = c.release()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.log.Debug().Msg("opening session")
	session, jump, err := c.dial(ctx, c.config, c.log)
	if err != nil {
		return err
	}
	c.session = session
	c.jump = jump
	c.log.Debug().Bool("via_jump_host", jump != nil).Msg("session opened")
	return nil
}

// IsConnected reports whether the primary session is up.
func (c *Client) IsConnected() bool {
	return c.session != nil && c.session.IsConnected()
}

// ExecTimeout returns the current per-command execution timeout.
func (c *Client) ExecTimeout() time.Duration {
	return c.execTimeout
}

// SetExecTimeout changes the per-command execution timeout.
// A non-positive value restores DefaultExecTimeout.
func (c *Client) SetExecTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultExecTimeout
	}
	c.execTimeout = d
}

// OpenTransferChannel opens the sftp channel unless it is already open.
// A zero timeout means Config.TransferTimeout.
func (c *Client) OpenTransferChannel(ctx context.Context, timeout time.Duration) error {
	if !c.IsConnected() {
		return ErrSessionNotOpen
	}
	if c.transfer != nil {
		if !c.transfer.IsClosed() {
			return nil
		}
		c.log.Debug().Msg("sftp channel was closed, reopening")
		_ = c.CloseTransferChannel()
	}
	if timeout <= 0 {
		timeout = c.config.TransferTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.log.Debug().Msg("opening sftp channel")
	transfer, err := c.session.OpenTransfer(ctx)
	if err != nil {
		return fmt.Errorf("%w: sftp open failed: %w", ErrConnection, err)
	}
	c.transfer = transfer
	return nil
}

// CloseTransferChannel closes the sftp channel. It is a no-op if the channel
// is not open.
func (c *Client) CloseTransferChannel() error {
	if c.transfer == nil {
		return nil
	}
	c.log.Debug().Msg("closing sftp channel")
	wasClosed := c.transfer.IsClosed()
	err := c.transfer.Close()
	c.transfer = nil
	if err != nil && !wasClosed {
		return fmt.Errorf("failed to close sftp channel: %w", err)
	}
	return nil
}

// IsTransferChannelOpen reports whether the sftp channel is usable.
func (c *Client) IsTransferChannelOpen() bool {
	return c.transfer != nil && !c.transfer.IsClosed() && c.IsConnected()
}

// requireTransferChannel fails fast unless both the session and the sftp
// channel are open.
func (c *Client) requireTransferChannel() (TransferChannel, error) {
	if !c.IsConnected() {
		return nil, ErrSessionNotOpen
	}
	if c.transfer == nil || c.transfer.IsClosed() {
		return nil, ErrTransferChannelNotOpen
	}
	return c.transfer, nil
}

// Dispose closes the sftp channel, the session and the jump session, in
// that order. It is safe to call on a client that never connected and to
// call more than once. Close failures are logged and returned joined.
func (c *Client) Dispose() error {
	return c.release()
}

// release closes whatever channels and sessions the client still holds.
func (c *Client) release() error {
	var errs []error

	if err := c.CloseTransferChannel(); err != nil {
		c.log.Warn().Err(err).Msg("failed to close sftp channel")
		errs = append(errs, err)
	}

	if c.session != nil {
		c.log.Debug().Msg("closing session")
		if err := c.session.Close(); err != nil {
			c.log.Warn().Err(err).Msg("failed to close session")
			errs = append(errs, fmt.Errorf("failed to close session: %w", err))
		}
		c.session = nil
	}

	if c.jump != nil {
		c.log.Debug().Msg("closing jump session")
		if err := c.jump.Close(); err != nil {
			c.log.Warn().Err(err).Msg("failed to close jump session")
			errs = append(errs, fmt.Errorf("failed to close jump session: %w", err))
		}
		c.jump = nil
	}

	return errors.Join(errs...)
}

// dialSSH connects to the target, through the jump host when configured.
func dialSSH(ctx context.Context, config Config, log zerolog.Logger) (Session, Session, error) {
	hostKeyCallback, err := buildHostKeyCallback(config, log)
	if err != nil {
		return nil, nil, err
	}
	auth, err := buildAuthMethod(config.Password, config.KeyPath, config.PrivateKey, config.KeyPassphrase)
	if err != nil {
		return nil, nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
	}
	targetAddr := config.address()

	if config.JumpHost == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", targetAddr)
		if err != nil {
			return nil, nil, connectError(targetAddr, err)
		}
		client, err := handshake(ctx, conn, targetAddr, sshConfig)
		if err != nil {
			return nil, nil, connectError(targetAddr, err)
		}
		return newSSHSession(client), nil, nil
	}

	jumpClient, err := connectToJumpHost(ctx, config, hostKeyCallback)
	if err != nil {
		return nil, nil, err
	}

	log.Debug().Str("jump_host", config.JumpHost.address()).Msg("tunneling session through jump host")
	conn, err := jumpClient.DialContext(ctx, "tcp", targetAddr)
	if err != nil {
		jumpClient.Close()
		return nil, nil, fmt.Errorf("%w: failed to dial %s through jump host: %w", ErrConnection, targetAddr, err)
	}

	client, err := handshake(ctx, conn, targetAddr, sshConfig)
	if err != nil {
		jumpClient.Close()
		return nil, nil, connectError(targetAddr, err)
	}

	return newSSHSession(client), newSSHSession(jumpClient), nil
}

func connectToJumpHost(ctx context.Context, config Config, hostKeyCallback ssh.HostKeyCallback) (*ssh.Client, error) {
	jump := config.JumpHost
	auth, err := buildAuthMethod(jump.Password, jump.KeyPath, jump.PrivateKey, jump.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("jump host: %w", err)
	}

	jumpConfig := &ssh.ClientConfig{
		User:            jump.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
	}

	addr := jump.address()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("jump host: %w", connectError(addr, err))
	}
	client, err := handshake(ctx, conn, addr, jumpConfig)
	if err != nil {
		return nil, fmt.Errorf("jump host: %w", connectError(addr, err))
	}
	return client, nil
}

// handshake runs the SSH handshake on conn, closing conn if ctx ends first.
func handshake(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	client, err := awaitOpen(ctx, func() (*ssh.Client, error) {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		if err != nil {
			return nil, err
		}
		return ssh.NewClient(c, chans, reqs), nil
	}, func(client *ssh.Client) { client.Close() })
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

func connectError(addr string, err error) error {
	if isAuthError(err) {
		return fmt.Errorf("%w: %s: %w", ErrAuthFailed, addr, err)
	}
	return fmt.Errorf("%w: failed to connect to %s: %w", ErrConnection, addr, err)
}
