package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Operation names stored in the transfers table.
const (
	OpUpload   = "upload"
	OpDownload = "download"
	OpDelete   = "delete"
)

// Entry describes one transfer attempt.
type Entry struct {
	RunID      string
	Endpoint   string
	Operation  string
	LocalPath  string
	RemotePath string
	Bytes      int64
	Code       int
	Error      string
}

// Transfer is a stored journal row.
type Transfer struct {
	Entry
	ID        int64
	CreatedAt time.Time
}

// Run summarizes one full sync.
type Run struct {
	RunID     string
	Endpoint  string
	StartedAt time.Time
	Duration  time.Duration
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
}

// Status is "success", "partial" or "failed".
func (r Run) Status() string {
	switch {
	case r.Failed == 0:
		return "success"
	case r.Succeeded+r.Skipped > 0:
		return "partial"
	default:
		return "failed"
	}
}

// Stats is the summary shown by the status command.
type Stats struct {
	TrackedFiles int
	Transfers    int
	Failures     int
	LastTransfer *time.Time
	LastRun      *Run
}

// RecordUpload stores a successful upload and the file state used by
// Unchanged.
func (j *Journal) RecordUpload(ctx context.Context, e Entry, size int64, mtime time.Time) error {
	now := j.now().Unix()
	e.Operation = OpUpload

	return j.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_state (endpoint, remote_path, local_path, size, mtime, synced_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(endpoint, remote_path)
			DO UPDATE SET
				local_path = excluded.local_path,
				size = excluded.size,
				mtime = excluded.mtime,
				synced_at = excluded.synced_at
		`, e.Endpoint, e.RemotePath, e.LocalPath, size, mtime.UnixNano(), now); err != nil {
			return fmt.Errorf("upsert file state: %w", err)
		}
		return insertTransfer(ctx, tx, e, now)
	})
}

// RecordDelete forgets the file state of a removed remote file.
func (j *Journal) RecordDelete(ctx context.Context, e Entry) error {
	now := j.now().Unix()
	e.Operation = OpDelete

	return j.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM file_state WHERE endpoint = ? AND remote_path = ?",
			e.Endpoint, e.RemotePath); err != nil {
			return fmt.Errorf("delete file state: %w", err)
		}
		return insertTransfer(ctx, tx, e, now)
	})
}

// Record stores an entry without touching file state. Used for downloads
// and failures.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	return j.transaction(ctx, func(tx *sql.Tx) error {
		return insertTransfer(ctx, tx, e, j.now().Unix())
	})
}

func insertTransfer(ctx context.Context, tx *sql.Tx, e Entry, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transfers (run_id, endpoint, operation, local_path, remote_path, bytes, code, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(e.RunID), e.Endpoint, e.Operation, nullString(e.LocalPath), e.RemotePath,
		e.Bytes, e.Code, nullString(e.Error), now)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// Unchanged reports whether the last upload of remotePath to endpoint had
// the same size and modification time.
func (j *Journal) Unchanged(ctx context.Context, endpoint, remotePath string, size int64, mtime time.Time) (bool, error) {
	var storedSize, storedMtime int64
	err := j.conn.QueryRowContext(ctx,
		"SELECT size, mtime FROM file_state WHERE endpoint = ? AND remote_path = ?",
		endpoint, remotePath).Scan(&storedSize, &storedMtime)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query file state: %w", err)
	}
	return storedSize == size && storedMtime == mtime.UnixNano(), nil
}

// RecordRun stores the summary of a full sync.
func (j *Journal) RecordRun(ctx context.Context, r Run) error {
	_, err := j.conn.ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, endpoint, started_at, duration_ms, total, succeeded, skipped, failed, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.Endpoint, r.StartedAt.Unix(), r.Duration.Milliseconds(),
		r.Total, r.Succeeded, r.Skipped, r.Failed, r.Status())
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// Recent returns the latest transfers, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Transfer, error) {
	rows, err := j.conn.QueryContext(ctx, `
		SELECT id, run_id, endpoint, operation, local_path, remote_path, bytes, code, error, created_at
		FROM transfers
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		var runID, localPath, errMsg sql.NullString
		var created int64
		if err := rows.Scan(&t.ID, &runID, &t.Endpoint, &t.Operation, &localPath,
			&t.RemotePath, &t.Bytes, &t.Code, &errMsg, &created); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.RunID = runID.String
		t.LocalPath = localPath.String
		t.Error = errMsg.String
		t.CreatedAt = time.Unix(created, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Stats summarizes the journal.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	var s Stats

	if err := j.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM file_state").Scan(&s.TrackedFiles); err != nil {
		return s, fmt.Errorf("count file state: %w", err)
	}

	var last sql.NullInt64
	if err := j.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0), MAX(created_at)
		FROM transfers
	`).Scan(&s.Transfers, &s.Failures, &last); err != nil {
		return s, fmt.Errorf("count transfers: %w", err)
	}
	if last.Valid {
		t := time.Unix(last.Int64, 0)
		s.LastTransfer = &t
	}

	var r Run
	var started, durationMS int64
	err := j.conn.QueryRowContext(ctx, `
		SELECT run_id, endpoint, started_at, duration_ms, total, succeeded, skipped, failed
		FROM sync_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&r.RunID, &r.Endpoint, &started, &durationMS, &r.Total, &r.Succeeded, &r.Skipped, &r.Failed)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return s, fmt.Errorf("query last run: %w", err)
	default:
		r.StartedAt = time.Unix(started, 0)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		s.LastRun = &r
	}

	return s, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
