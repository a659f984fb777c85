package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConnection indicates unusable connection parameters.
	ErrInvalidConnection = errors.New("invalid connection parameters")

	// ErrConnectionTimeout indicates the session was not ready in time.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrAuthenticationFailed indicates the server rejected the credential.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrHostKeyMismatch indicates host key verification failed.
	ErrHostKeyMismatch = errors.New("host key verification failed")

	// ErrTransferFailed indicates a file transfer failed after the session opened.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrCommandFailed indicates a remote command exited non-zero.
	ErrCommandFailed = errors.New("remote command failed")

	// ErrInvalidPath indicates a path or command rejected before reaching the remote host.
	ErrInvalidPath = errors.New("invalid path")

	// ErrSessionClosed indicates the session ended underneath the caller.
	ErrSessionClosed = errors.New("session closed")

	// ErrPoolClosed indicates the pool was shut down.
	ErrPoolClosed = errors.New("connection pool closed")
)

// ExitError is returned by Session.Exec when the remote command exits non-zero.
type ExitError struct {
	Status int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return fmt.Sprintf("command failed with code %d", e.Status)
}
