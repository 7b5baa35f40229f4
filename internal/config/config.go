// Package config loads sshexec command settings from defaults, a YAML file,
// SSHEXEC_* environment variables and command line flags.
package config

import (
	"fmt"
	"time"

	"github.com/darshan-rambhia/sshexec"
)

// Settings is the command configuration. Keys match the YAML file layout.
type Settings struct {
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	KeyPath               string        `mapstructure:"key_path"`
	KeyPassphrase         string        `mapstructure:"key_passphrase"`
	StrictHostKeyChecking bool          `mapstructure:"strict_host_key_checking"`
	KnownHostsFile        string        `mapstructure:"known_hosts_file"`
	ExecTimeout           time.Duration `mapstructure:"exec_timeout"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	Retries               int           `mapstructure:"retries"`

	Jump JumpSettings `mapstructure:"jump"`
	Log  LogSettings  `mapstructure:"log"`
}

// JumpSettings configures an optional bastion. It is ignored unless Host is set.
type JumpSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	KeyPath  string `mapstructure:"key_path"`
}

// LogSettings configures the command logger.
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultSettings returns the settings used when nothing else is configured.
func DefaultSettings() *Settings {
	return &Settings{
		Host:           sshexec.DefaultHost,
		Port:           sshexec.DefaultPort,
		User:           sshexec.DefaultUser,
		ExecTimeout:    sshexec.DefaultExecTimeout,
		ConnectTimeout: sshexec.DefaultConnectTimeout,
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks settings that the client config cannot check itself.
func (s *Settings) Validate() error {
	if s.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", s.Retries)
	}
	if s.ExecTimeout <= 0 {
		return fmt.Errorf("exec_timeout must be positive, got %s", s.ExecTimeout)
	}
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", s.ConnectTimeout)
	}
	switch s.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", s.Log.Format)
	}
	return nil
}

// ClientConfig converts the settings into a client configuration.
func (s *Settings) ClientConfig() sshexec.Config {
	cfg := sshexec.Config{
		Host:                  s.Host,
		Port:                  s.Port,
		User:                  s.User,
		Password:              s.Password,
		KeyPath:               s.KeyPath,
		KeyPassphrase:         s.KeyPassphrase,
		StrictHostKeyChecking: s.StrictHostKeyChecking,
		KnownHostsFile:        s.KnownHostsFile,
		ExecTimeout:           s.ExecTimeout,
	}
	if s.Jump.Host != "" {
		cfg.JumpHost = &sshexec.JumpHost{
			Host:     s.Jump.Host,
			Port:     s.Jump.Port,
			User:     s.Jump.User,
			Password: s.Jump.Password,
			KeyPath:  s.Jump.KeyPath,
		}
	}
	return cfg
}

// RetryConfig returns the connect retry policy. Zero retries disables it.
func (s *Settings) RetryConfig() sshexec.RetryConfig {
	if s.Retries == 0 {
		return sshexec.NoRetryConfig()
	}
	cfg := sshexec.DefaultRetryConfig()
	cfg.MaxRetries = s.Retries
	return cfg
}
