package sync

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/juste-un-gars/scpsync/internal/remote"
)

var (
	// ErrConfigurationMissing indicates no workspace configuration is loaded.
	ErrConfigurationMissing = errors.New("no configuration loaded")

	// ErrSyncInProgress indicates another triggered operation holds the guard.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrFileIgnored indicates the path matches an ignore pattern.
	ErrFileIgnored = errors.New("file is ignored")

	// ErrOutsideWorkspace indicates a path that is not under the workspace root.
	ErrOutsideWorkspace = errors.New("path is outside the workspace")

	// ErrWorkspaceMissing indicates the workspace root is not a directory.
	ErrWorkspaceMissing = errors.New("workspace root not found")
)

// ErrorCategory classifies error types
type ErrorCategory string

const (
	ErrorCategoryNetwork    ErrorCategory = "network"
	ErrorCategoryFileSystem ErrorCategory = "filesystem"
	ErrorCategoryPermission ErrorCategory = "permission"
	ErrorCategorySSH        ErrorCategory = "ssh"
	ErrorCategoryUnknown    ErrorCategory = "unknown"
)

// permanentError marks a failure the caller already knows is not worth
// retrying.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so ClassifyError reports it as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ClassifyError analyzes an error and returns its category and whether it's retryable
func ClassifyError(err error) (ErrorCategory, bool) {
	if err == nil {
		return ErrorCategoryUnknown, false
	}

	category, retryable := classify(err)

	var perm *permanentError
	if errors.As(err, &perm) {
		retryable = false
	}
	return category, retryable
}

func classify(err error) (ErrorCategory, bool) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryUnknown, false
	case errors.Is(err, remote.ErrAuthenticationFailed), errors.Is(err, remote.ErrHostKeyMismatch):
		return ErrorCategorySSH, false
	case errors.Is(err, remote.ErrInvalidPath), errors.Is(err, remote.ErrInvalidConnection):
		return ErrorCategoryUnknown, false
	case errors.Is(err, remote.ErrConnectionTimeout), errors.Is(err, remote.ErrSessionClosed):
		return ErrorCategoryNetwork, true
	}

	if IsNetworkError(err) {
		return ErrorCategoryNetwork, true
	}
	if IsPermissionError(err) {
		return ErrorCategoryPermission, false
	}
	if IsFileSystemError(err) {
		return ErrorCategoryFileSystem, IsTransientFileSystemError(err)
	}
	if errors.Is(err, remote.ErrCommandFailed) {
		return ErrorCategorySSH, false
	}
	return ErrorCategoryUnknown, false
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"connection lost",
	"broken pipe",
	"timeout",
	"dial tcp",
	"no route to host",
	"host is down",
	"eof",
}

// IsNetworkError returns true if the error is network-related
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return containsAny(err.Error(), networkPatterns)
}

var permissionPatterns = []string{
	"permission denied",
	"access denied",
	"access is denied",
}

// IsPermissionError returns true if the error is permission-related
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return true
	}
	return containsAny(err.Error(), permissionPatterns)
}

var fsPatterns = []string{
	"file not found",
	"no such file",
	"file does not exist",
	"path too long",
	"disk full",
	"no space left",
	"quota exceeded",
}

// IsFileSystemError returns true if the error is filesystem-related
func IsFileSystemError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrExist) || errors.Is(err, os.ErrInvalid) {
		return true
	}
	return containsAny(err.Error(), fsPatterns) || containsAny(err.Error(), transientFSPatterns)
}

var transientFSPatterns = []string{
	"file is locked",
	"used by another process",
	"resource temporarily unavailable",
}

// IsTransientFileSystemError returns true if the filesystem error is transient.
// A vanished file is not: it was deleted while the sync ran.
func IsTransientFileSystemError(err error) bool {
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return false
	}
	return containsAny(err.Error(), transientFSPatterns)
}

// IsTransientError returns true if the error is transient and should be retried
func IsTransientError(err error) bool {
	_, retryable := ClassifyError(err)
	return retryable
}

func containsAny(msg string, patterns []string) bool {
	msg = strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
