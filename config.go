package sshexec

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// AuthMethod represents the SSH authentication method in use.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"
	// AuthMethodPrivateKey uses SSH private key authentication.
	AuthMethodPrivateKey AuthMethod = "private_key"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 22
	DefaultUser = "root"

	// DefaultExecTimeout bounds a single command execution.
	DefaultExecTimeout = 10 * time.Second
	// DefaultExecConnectTimeout bounds opening an exec channel.
	DefaultExecConnectTimeout = 10 * time.Second
	// DefaultTransferTimeout bounds opening the sftp channel lazily.
	DefaultTransferTimeout = 10 * time.Second
	// DefaultConnectTimeout is used by Connect when no timeout is given.
	DefaultConnectTimeout = 30 * time.Second
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the target SSH server hostname or IP address (default localhost).
	Host string

	// Port is the SSH port (default 22).
	Port int

	// User is the SSH username (default root).
	User string

	// Password is the SSH password for password authentication.
	// Mutually exclusive with KeyPath and PrivateKey.
	Password string

	// KeyPath is the path to the SSH private key file. A leading ~/ is expanded.
	// Mutually exclusive with PrivateKey and Password.
	KeyPath string

	// PrivateKey is the SSH private key content (PEM encoded).
	// Mutually exclusive with KeyPath and Password.
	PrivateKey string

	// KeyPassphrase decrypts an encrypted private key.
	KeyPassphrase string

	// JumpHost tunnels the session through an intermediate host when set.
	JumpHost *JumpHost

	// StrictHostKeyChecking verifies the server key against KnownHostsFile.
	// When false any host key is accepted.
	StrictHostKeyChecking bool

	// KnownHostsFile is used when StrictHostKeyChecking is set.
	// Defaults to ~/.ssh/known_hosts.
	KnownHostsFile string

	// ExecTimeout bounds each command execution (default 10s).
	ExecTimeout time.Duration

	// ExecConnectTimeout bounds opening the exec channel (default 10s).
	ExecConnectTimeout time.Duration

	// TransferTimeout bounds opening the sftp channel on first use (default 10s).
	TransferTimeout time.Duration

	// Logger receives debug and warning logs. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

// JumpHost describes a bastion host the primary session is tunneled through.
type JumpHost struct {
	Host string

	// Port defaults to 22.
	Port int

	// User falls back to Config.User if not set.
	User string

	Password      string
	KeyPath       string
	PrivateKey    string
	KeyPassphrase string
}

// WithDefaults returns a copy of the config with default values applied.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.ExecTimeout == 0 {
		c.ExecTimeout = DefaultExecTimeout
	}
	if c.ExecConnectTimeout == 0 {
		c.ExecConnectTimeout = DefaultExecConnectTimeout
	}
	if c.TransferTimeout == 0 {
		c.TransferTimeout = DefaultTransferTimeout
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.JumpHost != nil {
		jump := *c.JumpHost
		if jump.Port == 0 {
			jump.Port = DefaultPort
		}
		if jump.User == "" {
			jump.User = c.User
		}
		c.JumpHost = &jump
	}
	return c
}

// Validate checks that the config describes exactly one credential source
// for the target and for the jump host, if any.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if _, err := inferAuthMethod(c.Password, c.KeyPath, c.PrivateKey); err != nil {
		return err
	}
	if c.ExecTimeout < 0 || c.ExecConnectTimeout < 0 || c.TransferTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}

	if j := c.JumpHost; j != nil {
		if j.Host == "" {
			return fmt.Errorf("%w: jump host requires a host", ErrInvalidConfig)
		}
		if err := validatePort(j.Port); err != nil {
			return fmt.Errorf("jump host: %w", err)
		}
		if _, err := inferAuthMethod(j.Password, j.KeyPath, j.PrivateKey); err != nil {
			return fmt.Errorf("jump host: %w", err)
		}
	}
	return nil
}

// AuthMethod reports the authentication method inferred from the credentials.
func (c Config) AuthMethod() AuthMethod {
	method, _ := inferAuthMethod(c.Password, c.KeyPath, c.PrivateKey)
	return method
}

func (c Config) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (j JumpHost) address() string {
	return net.JoinHostPort(j.Host, strconv.Itoa(j.Port))
}

func inferAuthMethod(password, keyPath, privateKey string) (AuthMethod, error) {
	hasKey := keyPath != "" || privateKey != ""
	switch {
	case password != "" && hasKey:
		return "", fmt.Errorf("%w: password and private key are mutually exclusive", ErrInvalidConfig)
	case keyPath != "" && privateKey != "":
		return "", fmt.Errorf("%w: key path and private key content are mutually exclusive", ErrInvalidConfig)
	case password != "":
		return AuthMethodPassword, nil
	case hasKey:
		return AuthMethodPrivateKey, nil
	default:
		return "", fmt.Errorf("%w: should specify password or private key", ErrInvalidConfig)
	}
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, port)
	}
	return nil
}
