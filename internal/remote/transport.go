package remote

import (
	"context"
	"io"
)

// Session is an authenticated transport to one endpoint.
type Session interface {
	// Exec runs command and streams its output. A non-zero exit yields *ExitError.
	Exec(ctx context.Context, command string, stdout, stderr io.Writer) error

	// OpenSFTP opens a file-transfer channel. The caller closes it.
	OpenSFTP(ctx context.Context) (SFTPClient, error)

	// Done is closed when the underlying transport ends.
	Done() <-chan struct{}

	Close() error
}

// SFTPClient abstracts the file-transfer channel for testing.
type SFTPClient interface {
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Close() error
}

// Dialer establishes sessions.
type Dialer interface {
	Dial(ctx context.Context, info ConnectionInfo) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, info ConnectionInfo) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, info ConnectionInfo) (Session, error) {
	return f(ctx, info)
}
