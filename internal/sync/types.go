package sync

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/juste-un-gars/scpsync/internal/remote"
)

// Operation names the remote action a progress event reports.
type Operation string

const (
	OperationUpload   Operation = "upload"
	OperationDownload Operation = "download"
	OperationDelete   Operation = "delete"
)

// ProgressEvent is emitted after each file of a full sync.
type ProgressEvent struct {
	RunID     string
	File      string // workspace-relative, slash separated
	Operation Operation
	Processed int
	Total     int

	// BytesTransferred is zero for skipped and failed files. TotalBytes is
	// the local size.
	BytesTransferred int64
	TotalBytes       int64

	// Percentage is floor(Processed / Total * 100).
	Percentage int

	Success bool
	Skipped bool
}

// ProgressCallback receives progress events.
type ProgressCallback func(ProgressEvent)

// FileFailure records one file that could not be synced.
type FileFailure struct {
	Path string
	Code remote.ResultCode
	Err  error
}

// FileResult pairs a path with the outcome of its remote operation.
type FileResult struct {
	Path   string
	Result remote.TransferResult
}

// SyncReport summarizes a full sync. A run with failures still completes.
type SyncReport struct {
	RunID            string
	StartedAt        time.Time
	Duration         time.Duration
	Total            int
	Succeeded        int
	Skipped          int
	BytesTransferred int64
	Failed           []FileFailure
	Cancelled        bool
}

// Complete reports whether every file was uploaded or skipped.
func (r *SyncReport) Complete() bool {
	return len(r.Failed) == 0 && !r.Cancelled
}

// Err combines the per-file failures, or returns nil.
func (r *SyncReport) Err() error {
	var err error
	for _, f := range r.Failed {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return err
}

// Result is the metrics label for the run outcome.
func (r *SyncReport) Result() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case len(r.Failed) == 0:
		return "success"
	case r.Succeeded+r.Skipped > 0:
		return "partial"
	default:
		return "failure"
	}
}

func (r *SyncReport) addFailure(path string, res remote.TransferResult) {
	err := res.Err
	if err == nil {
		err = fmt.Errorf("%s", res.Code)
	}
	r.Failed = append(r.Failed, FileFailure{Path: path, Code: res.Code, Err: err})
}
