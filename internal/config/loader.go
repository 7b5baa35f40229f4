package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/darshan-rambhia/sshexec"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// SSHEXEC_HOST or SSHEXEC_JUMP_HOST.
const EnvPrefix = "SSHEXEC"

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"host":                     "host",
	"port":                     "port",
	"user":                     "user",
	"password":                 "password",
	"key":                      "key_path",
	"key-passphrase":           "key_passphrase",
	"strict-host-key-checking": "strict_host_key_checking",
	"known-hosts":              "known_hosts_file",
	"exec-timeout":             "exec_timeout",
	"connect-timeout":          "connect_timeout",
	"retries":                  "retries",
	"jump-host":                "jump.host",
	"jump-port":                "jump.port",
	"jump-user":                "jump.user",
	"jump-password":            "jump.password",
	"jump-key":                 "jump.key_path",
	"log-level":                "log.level",
	"log-format":               "log.format",
}

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	flags      *pflag.FlagSet
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path. A missing explicit file
// is an error, a missing default file is not.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// BindFlags makes flags that were set on the command line override every
// other source. Flags not present in the set are skipped.
func (l *Loader) BindFlags(flags *pflag.FlagSet) {
	l.flags = flags
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Settings, error) {
	cfg := DefaultSettings()

	if err := l.setupViper(cfg); err != nil {
		return nil, err
	}

	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.KeyPath = sshexec.ExpandPath(cfg.KeyPath)
	cfg.KnownHostsFile = sshexec.ExpandPath(cfg.KnownHostsFile)
	cfg.Jump.KeyPath = sshexec.ExpandPath(cfg.Jump.KeyPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ConfigFileUsed returns the file the settings were read from, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// setupViper configures Viper with defaults, environment and flag bindings.
func (l *Loader) setupViper(cfg *Settings) error {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "sshexec"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "sshexec"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Every key needs a default so Unmarshal sees env values for nested keys.
	l.setDefaults(cfg)
	v.AutomaticEnv()

	if l.flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Settings) {
	v := l.v

	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("user", cfg.User)
	v.SetDefault("password", cfg.Password)
	v.SetDefault("key_path", cfg.KeyPath)
	v.SetDefault("key_passphrase", cfg.KeyPassphrase)
	v.SetDefault("strict_host_key_checking", cfg.StrictHostKeyChecking)
	v.SetDefault("known_hosts_file", cfg.KnownHostsFile)
	v.SetDefault("exec_timeout", cfg.ExecTimeout)
	v.SetDefault("connect_timeout", cfg.ConnectTimeout)
	v.SetDefault("retries", cfg.Retries)

	// Jump host
	v.SetDefault("jump.host", cfg.Jump.Host)
	v.SetDefault("jump.port", cfg.Jump.Port)
	v.SetDefault("jump.user", cfg.Jump.User)
	v.SetDefault("jump.password", cfg.Jump.Password)
	v.SetDefault("jump.key_path", cfg.Jump.KeyPath)

	// Logging
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// loadConfigFile reads the explicit config file, or the first default one
// found on the search path.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		return l.v.ReadInConfig()
	}

	err := l.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}
