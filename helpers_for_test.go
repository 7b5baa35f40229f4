package sshexec

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	gossh "golang.org/x/crypto/ssh"
)

// generateTestRSAKey creates a test RSA private key and returns both PEM-encoded
// key content and a path to a temp file containing the key.
func generateTestRSAKey(t *testing.T) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}))

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, []byte(privateKeyPEM), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	return privateKeyPEM, keyPath
}

// generateTestPublicKey returns the authorized_keys line for an RSA private key.
func generateTestPublicKey(t *testing.T, privateKeyPEM string) string {
	t.Helper()

	signer, err := gossh.ParsePrivateKey([]byte(privateKeyPEM))
	if err != nil {
		t.Fatalf("failed to parse private key: %v", err)
	}
	return string(gossh.MarshalAuthorizedKey(signer.PublicKey()))
}

// createTestFileStructure creates a directory structure with files for testing.
// Files is a map of relative path -> content.
func createTestFileStructure(t *testing.T, files map[string][]byte) string {
	t.Helper()

	tmpDir := t.TempDir()
	for relPath, content := range files {
		fullPath := filepath.Join(tmpDir, relPath)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create directory: %v", err)
		}
		if err := os.WriteFile(fullPath, content, 0644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}
	return tmpDir
}

// newTestConfig creates a password Config pointing at an unused address.
func newTestConfig(t *testing.T) Config {
	t.Helper()

	return Config{
		Host:     "192.0.2.10",
		Port:     22,
		User:     "tester",
		Password: "secret",
	}
}

// testLogBuffer collects zerolog JSON output. Safe for concurrent writers.
type testLogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *testLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// count returns the number of log lines with the given message.
func (b *testLogBuffer) count(msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), `"message":"`+msg+`"`)
}

func (b *testLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// execScript plays the remote side of one command.
type execScript func(ch *fakeExecChannel)

// exitWith writes out and exits with status.
func exitWith(status int, out ...string) execScript {
	return func(ch *fakeExecChannel) {
		for _, s := range out {
			ch.write(s)
		}
		ch.exit(status)
	}
}

// hangUntilClosed never exits on its own; it ends only when the channel is
// closed locally, the way a pty hangup ends a remote command.
func hangUntilClosed(out ...string) execScript {
	return func(ch *fakeExecChannel) {
		for _, s := range out {
			ch.write(s)
		}
		<-ch.hangup
	}
}

// fakeExecChannel implements ExecChannel for testing.
type fakeExecChannel struct {
	script     execScript
	startErr   error
	cmd        string
	output     channelBuffer
	done       chan struct{}
	hangup     chan struct{}
	status     int
	closeCalls int
	hangOnce   sync.Once
}

func newFakeExecChannel(script execScript) *fakeExecChannel {
	return &fakeExecChannel{
		script: script,
		done:   make(chan struct{}),
		hangup: make(chan struct{}),
	}
}

func (c *fakeExecChannel) Start(cmd string) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.cmd = cmd
	go c.script(c)
	return nil
}

func (c *fakeExecChannel) write(s string) { _, _ = c.output.Write([]byte(s)) }

func (c *fakeExecChannel) exit(status int) {
	c.status = status
	close(c.done)
}

func (c *fakeExecChannel) Output() ByteSource { return &c.output }

func (c *fakeExecChannel) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeExecChannel) ExitStatus() (int, error) {
	if !c.IsClosed() {
		return -1, errors.New("exit status read before channel closed")
	}
	return c.status, nil
}

func (c *fakeExecChannel) Close() error {
	c.closeCalls++
	c.hangOnce.Do(func() { close(c.hangup) })
	return nil
}

// fakeSession implements Session for testing. Exec channels follow scripts
// in order; once scripts run out every command exits 0 with no output.
type fakeSession struct {
	name            string
	events          *[]string
	connected       bool
	closeErr        error
	closeCalls      int
	openExecErr     error
	startErr        error
	blockOpenExec   bool
	scripts         []execScript
	execs           []*fakeExecChannel
	ptyRequested    []bool
	transfer        TransferChannel
	openTransferErr error
	transferOpens   int
}

var _ Session = (*fakeSession)(nil)

func newFakeSession(scripts ...execScript) *fakeSession {
	return &fakeSession{
		name:      "session",
		connected: true,
		scripts:   scripts,
		transfer:  newFakeTransfer(),
	}
}

func (s *fakeSession) OpenExec(ctx context.Context, pty bool) (ExecChannel, error) {
	if s.openExecErr != nil {
		return nil, s.openExecErr
	}
	if s.blockOpenExec {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	script := exitWith(0)
	if len(s.scripts) > 0 {
		script, s.scripts = s.scripts[0], s.scripts[1:]
	}
	ch := newFakeExecChannel(script)
	ch.startErr = s.startErr
	s.execs = append(s.execs, ch)
	s.ptyRequested = append(s.ptyRequested, pty)
	return ch, nil
}

func (s *fakeSession) OpenTransfer(ctx context.Context) (TransferChannel, error) {
	s.transferOpens++
	if s.openTransferErr != nil {
		return nil, s.openTransferErr
	}
	if ft, ok := s.transfer.(*fakeTransfer); ok {
		ft.reopen()
	}
	return s.transfer, nil
}

func (s *fakeSession) IsConnected() bool { return s.connected }

func (s *fakeSession) Close() error {
	s.closeCalls++
	s.connected = false
	if s.events != nil {
		*s.events = append(*s.events, s.name+" closed")
	}
	return s.closeErr
}

// lastExec returns the most recently opened exec channel.
func (s *fakeSession) lastExec(t *testing.T) *fakeExecChannel {
	t.Helper()
	if len(s.execs) == 0 {
		t.Fatal("no exec channel was opened")
	}
	return s.execs[len(s.execs)-1]
}

// newFakeClient returns a connected client over session.
func newFakeClient(t *testing.T, session *fakeSession) *Client {
	t.Helper()
	client := NewClientWithSession(newTestConfig(t), session, nil)
	t.Cleanup(func() { _ = client.Dispose() })
	return client
}
