package sshexec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func buildAuthMethod(password, keyPath, privateKey, passphrase string) (ssh.AuthMethod, error) {
	method, err := inferAuthMethod(password, keyPath, privateKey)
	if err != nil {
		return nil, err
	}
	if method == AuthMethodPassword {
		return ssh.Password(password), nil
	}
	return buildPrivateKeyAuth(keyPath, privateKey, passphrase)
}

func buildPrivateKeyAuth(keyPath, privateKey, passphrase string) (ssh.AuthMethod, error) {
	keyData := []byte(privateKey)
	if keyPath != "" {
		var err error
		keyData, err = os.ReadFile(ExpandPath(keyPath))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read SSH key file: %w", ErrInvalidConfig, err)
		}
	}

	var signer ssh.Signer
	var err error
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: private key is encrypted, a passphrase is required", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: failed to parse SSH private key: %w", ErrInvalidConfig, err)
	}

	return ssh.PublicKeys(signer), nil
}

func buildHostKeyCallback(config Config, log zerolog.Logger) (ssh.HostKeyCallback, error) {
	if !config.StrictHostKeyChecking {
		log.Warn().Str("host", config.Host).Int("port", config.Port).
			Msg("SSH host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	knownHostsFile := config.KnownHostsFile
	if knownHostsFile == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot locate known_hosts: %w", ErrInvalidConfig, err)
		}
		knownHostsFile = filepath.Join(homeDir, ".ssh", "known_hosts")
	}

	expanded := ExpandPath(knownHostsFile)
	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load known_hosts file %s: %w", ErrInvalidConfig, expanded, err)
	}
	return callback, nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
