// Package journal records transfers in an encrypted SQLite database and
// answers whether a local file changed since its last upload.
package journal

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// ErrMissingKey indicates Open was called without an encryption key.
var ErrMissingKey = errors.New("journal encryption key is empty")

// Config contains journal database configuration.
type Config struct {
	Path          string
	EncryptionKey string // SQLCipher key, kept in the keyring
}

// Journal is the transfer history store.
type Journal struct {
	conn   *sql.DB
	path   string
	now    func() time.Time
	logger *zap.Logger
}

// GenerateKey returns a random 32-byte key, hex encoded.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate journal key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Open opens or creates the journal at cfg.Path.
func Open(cfg Config, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EncryptionKey == "" {
		return nil, ErrMissingKey
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma_key=%s&_pragma_cipher_page_size=4096",
		cfg.Path, cfg.EncryptionKey)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// SQLite serializes writers anyway.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	j := &Journal{
		conn:   conn,
		path:   cfg.Path,
		now:    time.Now,
		logger: logger.With(zap.String("component", "journal")),
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		j.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	if err := j.checkSchemaVersion(); err != nil {
		j.Close()
		return nil, err
	}

	j.logger.Debug("journal opened", zap.String("path", cfg.Path))
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}

// Path returns the database file location.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) checkSchemaVersion() error {
	var version string
	err := j.conn.QueryRow("SELECT value FROM db_metadata WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read journal schema version: %w", err)
	}
	if version == "" {
		return fmt.Errorf("invalid journal schema version")
	}
	return nil
}

func (j *Journal) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
