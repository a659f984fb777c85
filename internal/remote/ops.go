package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/juste-un-gars/scpsync/internal/metrics"
	"github.com/juste-un-gars/scpsync/internal/pathpolicy"
)

// ExecuteCommand runs a validated command and returns its standard output.
func (p *Pool) ExecuteCommand(ctx context.Context, info ConnectionInfo, command string) (string, error) {
	if err := pathpolicy.ValidateCommand(command); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	s, release, err := p.acquire(ctx, info)
	if err != nil {
		return "", err
	}
	defer release()

	var stdout bytes.Buffer
	if err := s.Exec(ctx, command, &stdout, nil); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: %s", ErrCommandFailed, exitErr.Error())
		}
		return "", err
	}

	return stdout.String(), nil
}

// UploadFile copies a local file to remotePath over a fresh SFTP channel.
// Failing to open the channel yields CodeConnectionFailed; any failure
// after that yields CodeTransferFailed.
func (p *Pool) UploadFile(ctx context.Context, info ConnectionInfo, localPath, remotePath string) TransferResult {
	logger := p.logger.With(zap.String("local", localPath), zap.String("remote", remotePath))

	s, release, err := p.acquire(ctx, info)
	if err != nil {
		return p.failed("upload", CodeConnectionFailed, err)
	}
	defer release()

	client, err := s.OpenSFTP(ctx)
	if err != nil {
		logger.Warn("sftp channel failed", zap.Error(err))
		return p.failed("upload", CodeConnectionFailed, err)
	}
	defer client.Close()

	n, err := p.upload(ctx, client, localPath, remotePath)
	if err != nil {
		logger.Warn("upload failed", zap.Error(err))
		return p.failed("upload", CodeTransferFailed, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	logger.Debug("uploaded", zap.Int64("bytes", n))
	return p.succeeded("upload", n)
}

func (p *Pool) upload(ctx context.Context, client SFTPClient, localPath, remotePath string) (int64, error) {
	local, err := p.fs.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open local file: %w", err)
	}
	defer local.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("create remote file: %w", err)
	}

	n, err := copyContext(ctx, dst, local)
	if cerr := dst.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close remote file: %w", cerr)
	}
	return n, err
}

// DownloadFile copies remotePath to localPath, creating parent directories.
// A partial local file is removed on failure.
func (p *Pool) DownloadFile(ctx context.Context, info ConnectionInfo, remotePath, localPath string) TransferResult {
	logger := p.logger.With(zap.String("remote", remotePath), zap.String("local", localPath))

	s, release, err := p.acquire(ctx, info)
	if err != nil {
		return p.failed("download", CodeConnectionFailed, err)
	}
	defer release()

	client, err := s.OpenSFTP(ctx)
	if err != nil {
		logger.Warn("sftp channel failed", zap.Error(err))
		return p.failed("download", CodeConnectionFailed, err)
	}
	defer client.Close()

	n, err := p.download(ctx, client, remotePath, localPath)
	if err != nil {
		logger.Warn("download failed", zap.Error(err))
		return p.failed("download", CodeTransferFailed, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	logger.Debug("downloaded", zap.Int64("bytes", n))
	return p.succeeded("download", n)
}

func (p *Pool) download(ctx context.Context, client SFTPClient, remotePath, localPath string) (int64, error) {
	src, err := client.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("open remote file: %w", err)
	}
	defer src.Close()

	if err := p.fs.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("create local directory: %w", err)
	}

	dst, err := p.fs.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create local file: %w", err)
	}

	n, err := copyContext(ctx, dst, src)
	if cerr := dst.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close local file: %w", cerr)
	}
	if err != nil {
		_ = p.fs.Remove(localPath)
		return n, err
	}
	return n, nil
}

// DeleteRemoteFile removes remotePath with "rm -f". Paths failing
// validation yield CodeInvalidPath without contacting the host.
func (p *Pool) DeleteRemoteFile(ctx context.Context, info ConnectionInfo, remotePath string) TransferResult {
	cmd, err := pathpolicy.RemoveCommand(remotePath)
	if err != nil {
		return p.failed("delete", CodeInvalidPath, fmt.Errorf("%w: %v", ErrInvalidPath, err))
	}

	if _, err := p.ExecuteCommand(ctx, info, cmd); err != nil {
		p.logger.Warn("delete failed", zap.String("remote", remotePath), zap.Error(err))
		return p.failed("delete", CodeTransferFailed, err)
	}

	return p.succeeded("delete", 0)
}

// EnsureRemoteDirectory creates remotePath and its parents.
func (p *Pool) EnsureRemoteDirectory(ctx context.Context, info ConnectionInfo, remotePath string) bool {
	cmd, err := pathpolicy.MkdirCommand(remotePath)
	if err != nil {
		p.logger.Warn("refusing to create remote directory",
			zap.String("remote", remotePath),
			zap.Error(err))
		return false
	}

	if _, err := p.ExecuteCommand(ctx, info, cmd); err != nil {
		p.logger.Warn("create remote directory failed",
			zap.String("remote", remotePath),
			zap.Error(err))
		return false
	}
	return true
}

// TestConnection runs the no-op probe.
func (p *Pool) TestConnection(ctx context.Context, info ConnectionInfo) bool {
	if _, err := p.ExecuteCommand(ctx, info, pathpolicy.ProbeCommand); err != nil {
		p.logger.Info("connection test failed",
			zap.String("endpoint", info.Key()),
			zap.Error(err))
		return false
	}
	return true
}

func (p *Pool) succeeded(op string, n int64) TransferResult {
	metrics.Transfers.WithLabelValues(op, "success").Inc()
	metrics.TransferBytes.WithLabelValues(op).Add(float64(n))
	return Succeeded(n)
}

func (p *Pool) failed(op string, code ResultCode, err error) TransferResult {
	metrics.Transfers.WithLabelValues(op, "failure").Inc()
	return Failed(code, err)
}

// copyContext is io.Copy that stops between chunks once ctx is done.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, &contextReader{ctx: ctx, r: src})
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}

// IsRetryable reports whether a failed result is worth another attempt.
func (r TransferResult) IsRetryable() bool {
	if r.Success || r.Err == nil {
		return false
	}
	switch r.Code {
	case CodeInvalidPath, CodeNoConfiguration:
		return false
	}
	if errors.Is(r.Err, ErrAuthenticationFailed) || errors.Is(r.Err, ErrHostKeyMismatch) {
		return false
	}
	if errors.Is(r.Err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(r.Err.Error())
	return !strings.Contains(msg, "no such file") && !strings.Contains(msg, "permission denied")
}
