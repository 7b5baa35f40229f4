package sshexec

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"
	"time"
)

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (m *mockFileInfo) Name() string { return m.name }
func (m *mockFileInfo) Size() int64  { return m.size }
func (m *mockFileInfo) Mode() os.FileMode {
	if m.isDir {
		return fs.ModeDir | 0755
	}
	return 0644
}
func (m *mockFileInfo) ModTime() time.Time { return time.Time{} }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

// fakeTransfer is an in-memory remote filesystem implementing
// TransferChannel. Errors can be injected per operation, either for every
// path ("Mkdir") or for one path ("Mkdir:/a/b").
type fakeTransfer struct {
	mu         sync.Mutex
	dirs       map[string]bool
	files      map[string][]byte
	mkdirCalls map[string]int
	errors     map[string]error
	closeCalls int
	closed     bool
	events     *[]string

	// onMkdir runs with the lock held before Mkdir does its own work.
	onMkdir func(p string)
}

var _ TransferChannel = (*fakeTransfer)(nil)

// newFakeTransfer returns a filesystem holding "/" and the given directories.
func newFakeTransfer(dirs ...string) *fakeTransfer {
	t := &fakeTransfer{
		dirs:       map[string]bool{"/": true},
		files:      make(map[string][]byte),
		mkdirCalls: make(map[string]int),
		errors:     make(map[string]error),
	}
	for _, d := range dirs {
		t.dirs[path.Clean(d)] = true
	}
	return t
}

func (t *fakeTransfer) SetError(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[op] = err
}

func (t *fakeTransfer) injected(op, p string) error {
	if err, ok := t.errors[op+":"+p]; ok {
		return err
	}
	return t.errors[op]
}

func (t *fakeTransfer) Stat(p string) (os.FileInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p = path.Clean(p)
	if err := t.injected("Stat", p); err != nil {
		return nil, err
	}
	if t.dirs[p] {
		return &mockFileInfo{name: path.Base(p), isDir: true}, nil
	}
	if content, ok := t.files[p]; ok {
		return &mockFileInfo{name: path.Base(p), size: int64(len(content))}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (t *fakeTransfer) Mkdir(p string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p = path.Clean(p)
	t.mkdirCalls[p]++
	if t.onMkdir != nil {
		t.onMkdir(p)
	}
	if err := t.injected("Mkdir", p); err != nil {
		return err
	}
	if _, isFile := t.files[p]; t.dirs[p] || isFile {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if !t.dirs[path.Dir(p)] {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrNotExist}
	}
	t.dirs[p] = true
	return nil
}

func (t *fakeTransfer) Create(p string) (io.WriteCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p = path.Clean(p)
	if err := t.injected("Create", p); err != nil {
		return nil, err
	}
	if !t.dirs[path.Dir(p)] {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	if t.dirs[p] {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fmt.Errorf("is a directory")}
	}
	t.files[p] = []byte{}
	return &fakeRemoteFile{transfer: t, path: p}, nil
}

func (t *fakeTransfer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	t.closed = true
	if t.events != nil {
		*t.events = append(*t.events, "transfer closed")
	}
	return t.errors["Close"]
}

func (t *fakeTransfer) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// drop simulates the server closing the channel.
func (t *fakeTransfer) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// reopen makes the filesystem usable again, as a fresh channel would be.
func (t *fakeTransfer) reopen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = false
}

func (t *fakeTransfer) file(p string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	content, ok := t.files[p]
	return content, ok
}

func (t *fakeTransfer) hasDir(p string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirs[p]
}

func (t *fakeTransfer) mkdirCount(p string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mkdirCalls[p]
}

// fileList returns every remote file path, sorted.
func (t *fakeTransfer) fileList() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := make([]string, 0, len(t.files))
	for p := range t.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// fakeRemoteFile stores its content in the filesystem on Close.
type fakeRemoteFile struct {
	transfer *fakeTransfer
	path     string
	buf      bytes.Buffer
}

func (f *fakeRemoteFile) Write(p []byte) (int, error) {
	f.transfer.mu.Lock()
	err := f.transfer.injected("Write", f.path)
	f.transfer.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.buf.Write(p)
}

func (f *fakeRemoteFile) Close() error {
	f.transfer.mu.Lock()
	defer f.transfer.mu.Unlock()
	if err := f.transfer.injected("CloseFile", f.path); err != nil {
		return err
	}
	f.transfer.files[f.path] = f.buf.Bytes()
	return nil
}
