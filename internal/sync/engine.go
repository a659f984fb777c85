// Package sync mirrors a local workspace onto a remote SSH host.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/juste-un-gars/scpsync/internal/config"
	"github.com/juste-un-gars/scpsync/internal/journal"
	"github.com/juste-un-gars/scpsync/internal/metrics"
	"github.com/juste-un-gars/scpsync/internal/pathpolicy"
	"github.com/juste-un-gars/scpsync/internal/remote"
)

// Pool is the subset of remote.Pool the engine drives.
type Pool interface {
	UploadFile(ctx context.Context, info remote.ConnectionInfo, localPath, remotePath string) remote.TransferResult
	DownloadFile(ctx context.Context, info remote.ConnectionInfo, remotePath, localPath string) remote.TransferResult
	DeleteRemoteFile(ctx context.Context, info remote.ConnectionInfo, remotePath string) remote.TransferResult
	EnsureRemoteDirectory(ctx context.Context, info remote.ConnectionInfo, remotePath string) bool
	TestConnection(ctx context.Context, info remote.ConnectionInfo) bool
}

// CredentialSource resolves connection parameters for a configuration.
type CredentialSource interface {
	Resolve(ctx context.Context, cfg *config.WorkspaceConfig) (remote.ConnectionInfo, error)
}

// Journal records transfers. Failures to record are logged, never fatal.
type Journal interface {
	RecordUpload(ctx context.Context, e journal.Entry, size int64, mtime time.Time) error
	RecordDelete(ctx context.Context, e journal.Entry) error
	Record(ctx context.Context, e journal.Entry) error
	RecordRun(ctx context.Context, r journal.Run) error
	Unchanged(ctx context.Context, endpoint, remotePath string, size int64, mtime time.Time) (bool, error)
}

// Options configures an Engine.
type Options struct {
	Root        string
	Fs          afero.Fs
	Pool        Pool
	Credentials CredentialSource

	// Journal is optional.
	Journal Journal

	Filter        pathpolicy.FilterKind
	SkipUnchanged bool
	Retry         *RetryPolicy
	Logger        *zap.Logger
}

// Engine runs save, delete and full-sync triggers for one workspace. At
// most one triggered operation runs at a time; others are dropped.
type Engine struct {
	root          string
	fs            afero.Fs
	pool          Pool
	creds         CredentialSource
	journal       Journal
	filterKind    pathpolicy.FilterKind
	skipUnchanged bool
	retry         *RetryPolicy
	logger        *zap.Logger

	cfgMu  sync.RWMutex
	cfg    *config.WorkspaceConfig
	filter pathpolicy.PathFilter

	inProgress atomic.Bool
	progress   progressFanout
	now        func() time.Time
}

// NewEngine creates a new sync engine
func NewEngine(opts Options) (*Engine, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("connection pool cannot be nil")
	}
	if opts.Credentials == nil {
		return nil, fmt.Errorf("credential source cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Retry == nil {
		opts.Retry = NoRetryPolicy()
	}

	return &Engine{
		root:          filepath.Clean(opts.Root),
		fs:            opts.Fs,
		pool:          opts.Pool,
		creds:         opts.Credentials,
		journal:       opts.Journal,
		filterKind:    opts.Filter,
		skipUnchanged: opts.SkipUnchanged,
		retry:         opts.Retry,
		logger:        opts.Logger.With(zap.String("component", "sync-engine")),
		now:           time.Now,
	}, nil
}

// Root returns the workspace root.
func (e *Engine) Root() string {
	return e.root
}

// SetConfiguration replaces the configuration used by the next operation.
// A nil cfg unloads it.
func (e *Engine) SetConfiguration(cfg *config.WorkspaceConfig) {
	var filter pathpolicy.PathFilter
	if cfg != nil {
		cp := *cfg
		cp.Ignore = append([]string(nil), cfg.Ignore...)
		cfg = &cp
		filter = pathpolicy.NewFilter(e.filterKind, cfg.Ignore)
	}

	e.cfgMu.Lock()
	e.cfg = cfg
	e.filter = filter
	e.cfgMu.Unlock()
}

// Configuration returns the loaded configuration, or nil.
func (e *Engine) Configuration() *config.WorkspaceConfig {
	cfg, _ := e.snapshot()
	return cfg
}

func (e *Engine) snapshot() (*config.WorkspaceConfig, pathpolicy.PathFilter) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg, e.filter
}

// IsSyncInProgress reports whether a triggered operation is running.
func (e *Engine) IsSyncInProgress() bool {
	return e.inProgress.Load()
}

// OnProgress registers a listener for full-sync progress.
func (e *Engine) OnProgress(cb ProgressCallback) {
	e.progress.add(cb)
}

// begin takes the guard. The returned func releases it.
func (e *Engine) begin() (func(), bool) {
	if !e.inProgress.CompareAndSwap(false, true) {
		return nil, false
	}
	return func() { e.inProgress.Store(false) }, true
}

// ShouldSyncFile reports whether p is inside the workspace and matches no
// ignore pattern. It is false when no configuration is loaded.
func (e *Engine) ShouldSyncFile(p string) bool {
	_, filter := e.snapshot()
	if filter == nil {
		return false
	}
	return e.shouldSync(filter, p)
}

func (e *Engine) shouldSync(filter pathpolicy.PathFilter, p string) bool {
	rel, abs, err := e.relative(p)
	if err != nil {
		return false
	}
	// The settings directory may hold inline credentials.
	if rel == config.DirName || strings.HasPrefix(rel, config.DirName+"/") {
		return false
	}
	if pattern, ignored := filter.Ignored(rel, abs); ignored {
		e.logger.Debug("path ignored", zap.String("path", rel), zap.String("pattern", pattern))
		return false
	}
	return true
}

// relative returns p relative to the root and absolute, both slash separated.
func (e *Engine) relative(p string) (rel, abs string, err error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(e.root, p)
	}
	p = filepath.Clean(p)

	r, err := filepath.Rel(e.root, p)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
	}
	return filepath.ToSlash(r), filepath.ToSlash(p), nil
}

// remotePathFor rebases a local path onto cfg.RemotePath.
func (e *Engine) remotePathFor(cfg *config.WorkspaceConfig, localPath string) (string, error) {
	rel, _, err := e.relative(localPath)
	if err != nil {
		return "", err
	}
	if !pathpolicy.IsValidPath(rel) {
		return "", fmt.Errorf("%w: %s", remote.ErrInvalidPath, rel)
	}

	remotePath := path.Join(cfg.RemotePath, rel)
	if !pathpolicy.ValidateRemotePath(remotePath, cfg.RemotePath) {
		return "", fmt.Errorf("%w: %s escapes %s", remote.ErrInvalidPath, remotePath, cfg.RemotePath)
	}
	return remotePath, nil
}

// CollectFilesToSync walks root depth first, pruning ignored directories,
// and returns the files to sync in lexical order.
func (e *Engine) CollectFilesToSync(root string) ([]string, error) {
	_, filter := e.snapshot()
	if filter == nil {
		return nil, ErrConfigurationMissing
	}
	return e.collect(filter, root)
}

func (e *Engine) collect(filter pathpolicy.PathFilter, root string) ([]string, error) {
	root = filepath.Clean(root)

	var files []string
	err := afero.Walk(e.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			e.logger.Warn("skipping unreadable entry", zap.String("path", p), zap.Error(err))
			return nil
		}
		if p == root {
			return nil
		}

		if !e.shouldSync(filter, p) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		mode := info.Mode()
		if mode&os.ModeSymlink != 0 {
			// Links to files are followed; linked directories are not walked.
			target, err := e.fs.Stat(p)
			if err != nil {
				e.logger.Warn("skipping broken symlink", zap.String("path", p), zap.Error(err))
				return nil
			}
			mode = target.Mode()
		}
		if mode.IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

// resolve returns the configuration and credentials for an operation.
func (e *Engine) resolve(ctx context.Context) (*config.WorkspaceConfig, pathpolicy.PathFilter, remote.ConnectionInfo, error) {
	cfg, filter := e.snapshot()
	if cfg == nil {
		return nil, nil, remote.ConnectionInfo{}, ErrConfigurationMissing
	}
	info, err := e.creds.Resolve(ctx, cfg)
	if err != nil {
		return cfg, filter, info, fmt.Errorf("resolve credentials: %w", err)
	}
	return cfg, filter, info, nil
}

// uploadOne ensures the remote parent directory and uploads localPath.
// Directory creation failure is logged; the upload still runs and reports
// the real outcome.
func (e *Engine) uploadOne(ctx context.Context, cfg *config.WorkspaceConfig, info remote.ConnectionInfo, localPath, runID string) remote.TransferResult {
	remotePath, err := e.remotePathFor(cfg, localPath)
	if err != nil {
		return remote.Failed(remote.CodeInvalidPath, err)
	}

	stat, statErr := e.fs.Stat(localPath)

	dir := path.Dir(remotePath)
	if !e.pool.EnsureRemoteDirectory(ctx, info, dir) {
		e.logger.Warn("could not ensure remote directory", zap.String("dir", dir))
	}

	res := e.pool.UploadFile(ctx, info, localPath, remotePath)

	entry := journal.Entry{
		RunID:      runID,
		Endpoint:   info.Key(),
		Operation:  journal.OpUpload,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      res.BytesTransferred,
		Code:       int(res.Code),
		Error:      res.ErrorMessage,
	}
	if res.Success && statErr == nil {
		e.record(func() error { return e.journal.RecordUpload(ctx, entry, stat.Size(), stat.ModTime()) })
	} else {
		e.record(func() error { return e.journal.Record(ctx, entry) })
	}
	return res
}

func (e *Engine) record(fn func() error) {
	if e.journal == nil {
		return
	}
	if err := fn(); err != nil {
		e.logger.Warn("failed to write journal", zap.Error(err))
	}
}

// SyncFileOnSave uploads a saved file when uploadOnSave is set. It returns
// false when nothing was attempted: no configuration, uploadOnSave off,
// another operation running, or the file is ignored. Failures are logged
// only.
func (e *Engine) SyncFileOnSave(ctx context.Context, savedPath string) (remote.TransferResult, bool) {
	cfg, filter := e.snapshot()
	if cfg == nil || !cfg.UploadOnSave {
		return remote.TransferResult{}, false
	}

	end, ok := e.begin()
	if !ok {
		e.logger.Debug("save ignored, sync in progress", zap.String("path", savedPath))
		return remote.TransferResult{}, false
	}
	defer end()

	if !e.shouldSync(filter, savedPath) {
		return remote.TransferResult{}, false
	}

	cfg, _, info, err := e.resolve(ctx)
	if err != nil {
		e.logger.Error("upload on save failed", zap.String("path", savedPath), zap.Error(err))
		return remote.Failed(remote.CodeNoConfiguration, err), true
	}

	res := e.uploadOne(ctx, cfg, info, savedPath, "")
	if res.Success {
		e.logger.Info("uploaded on save",
			zap.String("path", savedPath),
			zap.Int64("bytes", res.BytesTransferred))
	} else {
		e.logger.Error("upload on save failed",
			zap.String("path", savedPath),
			zap.Stringer("code", res.Code),
			zap.Error(res.Err))
	}
	return res, true
}

// UploadFile uploads one file on explicit request, regardless of
// uploadOnSave. Preconditions that stop the upload before any transfer
// are returned as errors; the result then carries the matching code.
func (e *Engine) UploadFile(ctx context.Context, localPath string) (remote.TransferResult, error) {
	end, ok := e.begin()
	if !ok {
		return remote.TransferResult{}, ErrSyncInProgress
	}
	defer end()

	cfg, filter, info, err := e.resolve(ctx)
	if err != nil {
		return remote.Failed(remote.CodeNoConfiguration, err), err
	}

	if _, _, err := e.relative(localPath); err != nil {
		return remote.Failed(remote.CodeInvalidPath, err), err
	}
	if !e.shouldSync(filter, localPath) {
		err := fmt.Errorf("%w: %s", ErrFileIgnored, localPath)
		return remote.Failed(remote.CodeInvalidPath, err), err
	}

	res := e.uploadOne(ctx, cfg, info, localPath, "")
	if res.Success {
		e.logger.Info("uploaded", zap.String("path", localPath), zap.Int64("bytes", res.BytesTransferred))
	} else {
		e.logger.Error("upload failed", zap.String("path", localPath), zap.Error(res.Err))
	}
	return res, nil
}

// SyncFilesOnDelete removes the remote copies of deleted paths. One failure
// does not stop the others. It returns nil when nothing was attempted.
func (e *Engine) SyncFilesOnDelete(ctx context.Context, deletedPaths []string) []FileResult {
	cfg, filter := e.snapshot()
	if cfg == nil {
		return nil
	}

	end, ok := e.begin()
	if !ok {
		e.logger.Debug("delete ignored, sync in progress", zap.Int("paths", len(deletedPaths)))
		return nil
	}
	defer end()

	var targets []string
	for _, p := range deletedPaths {
		if e.shouldSync(filter, p) {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	cfg, _, info, err := e.resolve(ctx)
	if err != nil {
		e.logger.Error("remote delete failed", zap.Error(err))
		return nil
	}

	var results []FileResult
	for _, p := range targets {
		var res remote.TransferResult
		remotePath, err := e.remotePathFor(cfg, p)
		if err != nil {
			res = remote.Failed(remote.CodeInvalidPath, err)
		} else {
			res = e.pool.DeleteRemoteFile(ctx, info, remotePath)
		}

		entry := journal.Entry{
			Endpoint:   info.Key(),
			Operation:  journal.OpDelete,
			LocalPath:  p,
			RemotePath: remotePath,
			Code:       int(res.Code),
			Error:      res.ErrorMessage,
		}
		if res.Success {
			e.logger.Info("deleted remote file", zap.String("remote", remotePath))
			e.record(func() error { return e.journal.RecordDelete(ctx, entry) })
		} else {
			e.logger.Error("remote delete failed",
				zap.String("path", p),
				zap.Stringer("code", res.Code),
				zap.Error(res.Err))
			if remotePath != "" {
				e.record(func() error { return e.journal.Record(ctx, entry) })
			}
		}
		results = append(results, FileResult{Path: p, Result: res})
	}
	return results
}

// SyncAllFiles uploads every non-ignored file of the workspace. Credential
// resolution failure aborts the run; per-file failures are collected in
// the report. Cancelling ctx stops between files.
func (e *Engine) SyncAllFiles(ctx context.Context) (*SyncReport, error) {
	end, ok := e.begin()
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer end()

	if cfg, _ := e.snapshot(); cfg == nil {
		return nil, ErrConfigurationMissing
	}

	if info, err := e.fs.Stat(e.root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceMissing, e.root)
	}

	cfg, filter, conn, err := e.resolve(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("failure").Inc()
		return nil, err
	}

	files, err := e.collect(filter, e.root)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("failure").Inc()
		return nil, err
	}

	report := &SyncReport{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
		Total:     len(files),
	}
	logger := e.logger.With(zap.String("run_id", report.RunID))
	logger.Info("starting full sync",
		zap.String("endpoint", conn.Key()),
		zap.String("remote_path", cfg.RemotePath),
		zap.Int("files", len(files)))

	for i, f := range files {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		rel, _, _ := e.relative(f)
		ev := ProgressEvent{RunID: report.RunID, File: rel, Operation: OperationUpload, Total: len(files)}
		if stat, err := e.fs.Stat(f); err == nil {
			ev.TotalBytes = stat.Size()
		}

		if e.unchanged(ctx, cfg, conn, f) {
			report.Skipped++
			metrics.Transfers.WithLabelValues("upload", "skipped").Inc()
			ev.Skipped, ev.Success = true, true
		} else {
			res := e.uploadWithRetry(ctx, cfg, conn, f, report.RunID)
			if res.Success {
				report.Succeeded++
				report.BytesTransferred += res.BytesTransferred
				ev.BytesTransferred = res.BytesTransferred
				ev.Success = true
			} else {
				report.addFailure(rel, res)
				logger.Warn("file sync failed",
					zap.String("path", rel),
					zap.Stringer("code", res.Code),
					zap.Error(res.Err))
			}
		}

		ev.Processed = i + 1
		ev.Percentage = percentage(ev.Processed, ev.Total)
		e.progress.emit(ev)
	}

	report.Duration = e.now().Sub(report.StartedAt)
	metrics.SyncRuns.WithLabelValues(report.Result()).Inc()
	metrics.SyncDuration.Observe(report.Duration.Seconds())

	e.record(func() error {
		return e.journal.RecordRun(context.WithoutCancel(ctx), journal.Run{
			RunID:     report.RunID,
			Endpoint:  conn.Key(),
			StartedAt: report.StartedAt,
			Duration:  report.Duration,
			Total:     report.Total,
			Succeeded: report.Succeeded,
			Skipped:   report.Skipped,
			Failed:    len(report.Failed),
		})
	})

	logger.Info("full sync finished",
		zap.String("result", report.Result()),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration))

	if report.Cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

func (e *Engine) unchanged(ctx context.Context, cfg *config.WorkspaceConfig, conn remote.ConnectionInfo, localPath string) bool {
	if !e.skipUnchanged || e.journal == nil {
		return false
	}
	remotePath, err := e.remotePathFor(cfg, localPath)
	if err != nil {
		return false
	}
	info, err := e.fs.Stat(localPath)
	if err != nil {
		return false
	}
	same, err := e.journal.Unchanged(ctx, conn.Key(), remotePath, info.Size(), info.ModTime())
	if err != nil {
		e.logger.Warn("journal lookup failed", zap.String("path", localPath), zap.Error(err))
		return false
	}
	return same
}

func (e *Engine) uploadWithRetry(ctx context.Context, cfg *config.WorkspaceConfig, conn remote.ConnectionInfo, localPath, runID string) remote.TransferResult {
	var res remote.TransferResult
	_ = e.retry.Retry(ctx, "upload "+localPath, func() error {
		res = e.uploadOne(ctx, cfg, conn, localPath, runID)
		switch {
		case res.Success:
			return nil
		case !res.IsRetryable():
			return Permanent(res.Err)
		case res.Err == nil:
			return errors.New(res.Code.String())
		default:
			return res.Err
		}
	})
	return res
}

// DownloadFile fetches remotePath. An empty localPath means the workspace
// root plus the remote base name.
func (e *Engine) DownloadFile(ctx context.Context, remotePath, localPath string) (remote.TransferResult, error) {
	cfg, _, info, err := e.resolve(ctx)
	if err != nil {
		return remote.Failed(remote.CodeNoConfiguration, err), err
	}

	if !pathpolicy.IsValidRemotePath(remotePath) {
		err := fmt.Errorf("%w: %s", remote.ErrInvalidPath, remotePath)
		return remote.Failed(remote.CodeInvalidPath, err), err
	}
	if !path.IsAbs(remotePath) {
		remotePath = path.Join(cfg.RemotePath, remotePath)
	}
	if localPath == "" {
		localPath = filepath.Join(e.root, path.Base(remotePath))
	}

	res := e.pool.DownloadFile(ctx, info, remotePath, localPath)
	e.record(func() error {
		return e.journal.Record(ctx, journal.Entry{
			Endpoint:   info.Key(),
			Operation:  journal.OpDownload,
			LocalPath:  localPath,
			RemotePath: remotePath,
			Bytes:      res.BytesTransferred,
			Code:       int(res.Code),
			Error:      res.ErrorMessage,
		})
	})
	if res.Success {
		e.logger.Info("downloaded", zap.String("remote", remotePath), zap.String("local", localPath))
	} else {
		e.logger.Error("download failed", zap.String("remote", remotePath), zap.Error(res.Err))
	}
	return res, nil
}

// TestConnection reports whether the configured host answers the probe.
func (e *Engine) TestConnection(ctx context.Context) bool {
	_, _, info, err := e.resolve(ctx)
	if err != nil {
		e.logger.Info("connection test skipped", zap.Error(err))
		return false
	}
	return e.pool.TestConnection(ctx, info)
}
