package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/spf13/afero"

	"github.com/juste-un-gars/scpsync/internal/config"
	"github.com/juste-un-gars/scpsync/internal/journal"
	"github.com/juste-un-gars/scpsync/internal/remote"
)

type poolCall struct {
	op     string
	local  string
	remote string
}

type fakePool struct {
	mu       gosync.Mutex
	calls    []poolCall
	uploadFn func(local, remote string) remote.TransferResult
	deleteFn func(remote string) remote.TransferResult
	probe    bool
}

func (p *fakePool) add(c poolCall) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()
}

func (p *fakePool) Calls() []poolCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]poolCall(nil), p.calls...)
}

func (p *fakePool) UploadFile(_ context.Context, _ remote.ConnectionInfo, local, remotePath string) remote.TransferResult {
	p.add(poolCall{op: "upload", local: local, remote: remotePath})
	if p.uploadFn != nil {
		return p.uploadFn(local, remotePath)
	}
	return remote.Succeeded(10)
}

func (p *fakePool) DownloadFile(_ context.Context, _ remote.ConnectionInfo, remotePath, local string) remote.TransferResult {
	p.add(poolCall{op: "download", local: local, remote: remotePath})
	return remote.Succeeded(5)
}

func (p *fakePool) DeleteRemoteFile(_ context.Context, _ remote.ConnectionInfo, remotePath string) remote.TransferResult {
	p.add(poolCall{op: "delete", remote: remotePath})
	if p.deleteFn != nil {
		return p.deleteFn(remotePath)
	}
	return remote.Succeeded(0)
}

func (p *fakePool) EnsureRemoteDirectory(_ context.Context, _ remote.ConnectionInfo, remotePath string) bool {
	p.add(poolCall{op: "mkdir", remote: remotePath})
	return true
}

func (p *fakePool) TestConnection(context.Context, remote.ConnectionInfo) bool {
	p.add(poolCall{op: "probe"})
	return p.probe
}

type fakeCreds struct {
	mu    gosync.Mutex
	calls int
	err   error
}

func (c *fakeCreds) Resolve(_ context.Context, cfg *config.WorkspaceConfig) (remote.ConnectionInfo, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return remote.ConnectionInfo{}, c.err
	}
	return remote.ConnectionInfo{Host: cfg.Host, Port: cfg.Port, Username: cfg.User, Password: "pw"}, nil
}

func (c *fakeCreds) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeJournal struct {
	mu        gosync.Mutex
	uploads   []journal.Entry
	deletes   []journal.Entry
	records   []journal.Entry
	runs      []journal.Run
	unchanged map[string]bool
}

func (j *fakeJournal) RecordUpload(_ context.Context, e journal.Entry, _ int64, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.uploads = append(j.uploads, e)
	return nil
}

func (j *fakeJournal) RecordDelete(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deletes = append(j.deletes, e)
	return nil
}

func (j *fakeJournal) Record(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, e)
	return nil
}

func (j *fakeJournal) RecordRun(_ context.Context, r journal.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, r)
	return nil
}

func (j *fakeJournal) Unchanged(_ context.Context, _, remotePath string, _ int64, _ time.Time) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.unchanged[remotePath], nil
}

// recordingFs remembers every path opened, which is how afero.Walk lists
// directories.
type recordingFs struct {
	afero.Fs
	mu     gosync.Mutex
	opened []string
}

func (f *recordingFs) Open(name string) (afero.File, error) {
	f.mu.Lock()
	f.opened = append(f.opened, name)
	f.mu.Unlock()
	return f.Fs.Open(name)
}

var errBoom = errors.New("boom")
