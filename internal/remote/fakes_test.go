package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

type fakeSession struct {
	mu       sync.Mutex
	commands []string
	execFn   func(cmd string, stdout io.Writer) error
	sftp     *fakeSFTP
	sftpErr  error

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		sftp: newFakeSFTP(),
		done: make(chan struct{}),
	}
}

func (s *fakeSession) Exec(ctx context.Context, command string, stdout, _ io.Writer) error {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	fn := s.execFn
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fn != nil {
		return fn(command, stdout)
	}
	return nil
}

func (s *fakeSession) OpenSFTP(ctx context.Context) (SFTPClient, error) {
	if s.sftpErr != nil {
		return nil, s.sftpErr
	}
	return s.sftp, nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	s.end()
	return nil
}

// end simulates the transport dropping without an explicit Close.
func (s *fakeSession) end() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *fakeSession) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

type fakeSFTP struct {
	mu        sync.Mutex
	files     map[string][]byte
	createErr error
	openErr   error
}

func newFakeSFTP() *fakeSFTP {
	return &fakeSFTP{files: make(map[string][]byte)}
}

func (f *fakeSFTP) Create(path string) (io.WriteCloser, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &fakeRemoteFile{onClose: func(b []byte) {
		f.mu.Lock()
		f.files[path] = b
		f.mu.Unlock()
	}}, nil
}

func (f *fakeSFTP) Open(path string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeSFTP) Close() error { return nil }

func (f *fakeSFTP) File(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[path]
	return b, ok
}

type fakeRemoteFile struct {
	buf     bytes.Buffer
	onClose func([]byte)
}

func (w *fakeRemoteFile) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeRemoteFile) Close() error {
	w.onClose(w.buf.Bytes())
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	dials    atomic.Int32
	err      error
	gate     chan struct{}
	prepare  func(*fakeSession)
}

func (d *fakeDialer) Dial(ctx context.Context, info ConnectionInfo) (Session, error) {
	d.dials.Add(1)

	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	s := newFakeSession()
	if d.prepare != nil {
		d.prepare(s)
	}

	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) Session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

var errBoom = errors.New("boom")

func testInfo() ConnectionInfo {
	return ConnectionInfo{Host: "example.com", Port: 22, Username: "dev", Password: "secret"}
}
