package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/juste-un-gars/scpsync/internal/config"
	"github.com/juste-un-gars/scpsync/internal/metrics"
	"github.com/juste-un-gars/scpsync/internal/scheduler"
	"github.com/juste-un-gars/scpsync/internal/sync"
	"github.com/juste-un-gars/scpsync/internal/watcher"
)

const metricsShutdownTimeout = 5 * time.Second

// syncHandler routes settled file events to the engine. Changes to the
// settings file reload the configuration instead of being uploaded.
type syncHandler struct {
	app *App
}

func (h *syncHandler) Saved(ctx context.Context, path string) {
	a := h.app
	if a.isSettingsPath(path) {
		if path == config.WorkspacePath(a.root) {
			_ = a.ReloadConfiguration()
		}
		return
	}
	a.engine.SyncFileOnSave(ctx, path)
}

func (h *syncHandler) Deleted(ctx context.Context, paths []string) {
	a := h.app
	kept := paths[:0:0]
	for _, p := range paths {
		if !a.isSettingsPath(p) {
			kept = append(kept, p)
			continue
		}
		if p == config.WorkspacePath(a.root) {
			_ = a.ReloadConfiguration()
		}
	}
	if len(kept) > 0 {
		a.engine.SyncFilesOnDelete(ctx, kept)
	}
}

// watchFilter keeps the settings directory visible and otherwise defers to
// the engine's ignore patterns.
func (a *App) watchFilter(path string) bool {
	if a.isSettingsPath(path) {
		return true
	}
	if a.engine.Configuration() == nil {
		return true
	}
	return a.engine.ShouldSyncFile(path)
}

// scheduledSync is the cron task. A run that overlaps another engine
// operation is skipped.
func (a *App) scheduledSync(ctx context.Context) error {
	report, err := a.engine.SyncAllFiles(ctx)
	if errors.Is(err, sync.ErrSyncInProgress) {
		a.logger.Info("scheduled sync skipped, another operation is running")
		return nil
	}
	if err != nil {
		return err
	}
	a.logger.Info("scheduled sync finished",
		zap.String("run_id", report.RunID),
		zap.String("result", report.Result()),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)))
	return report.Err()
}

// Watch uploads saved files and removes deleted ones until ctx is done.
// It also runs the configured schedule and serves metrics when an
// address is set.
func (a *App) Watch(ctx context.Context) error {
	w := watcher.New(a.root, &syncHandler{app: a}, a.logger,
		watcher.WithDebounce(a.settings.Sync.Debounce()),
		watcher.WithFilter(a.watchFilter))
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	if spec := a.settings.Sync.Schedule; spec != "" {
		s, err := scheduler.New(spec, a.scheduledSync, a.logger)
		if err != nil {
			return err
		}
		if err := s.Start(ctx); err != nil {
			return err
		}
		defer func() { <-s.Stop().Done() }()
	}

	serveErr := make(chan error, 1)
	if addr := a.settings.Metrics.Listen; addr != "" {
		srv := newMetricsServer(addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics endpoint shutdown failed", zap.Error(err))
			}
		}()
		a.logger.Info("metrics endpoint listening", zap.String("addr", addr))
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		return fmt.Errorf("metrics endpoint: %w", err)
	}
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
