package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"offlinesync/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS sync_queue (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    payload BLOB,
    enqueued_at TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending'
)`

// SQLiteStore keeps the queue in a sync_queue table; seq preserves enqueue order.
type SQLiteStore struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewSQLiteStore(path string, logger *zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range append(pragmas, sqliteSchema) {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("error executing query %s: %w", p, err)
		}
	}

	if logger != nil {
		logger.Info().Str("path", path).Msg("sqlite queue store initialized")
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, op *models.SyncOperation) error {
	if err := Prepare(op, time.Now()); err != nil {
		return err
	}
	query := `INSERT INTO sync_queue (id, kind, resource_type, resource_id, payload, enqueued_at, retry_count, last_error, status)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		op.ID,
		string(op.Kind),
		op.ResourceType,
		op.ResourceID,
		[]byte(op.Payload),
		op.EnqueuedAt.Format(time.RFC3339Nano),
		op.RetryCount,
		op.LastError,
		string(op.Status),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateID, op.ID)
		}
		return fmt.Errorf("failed to enqueue sync operation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.SyncOperation, error) {
	query := `SELECT id, kind, resource_type, resource_id, payload, enqueued_at, retry_count, last_error, status
              FROM sync_queue ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync operations: %w", err)
	}
	defer rows.Close()

	ops := []models.SyncOperation{}
	for rows.Next() {
		var (
			op         models.SyncOperation
			kind       string
			status     string
			payload    []byte
			enqueuedAt string
		)
		if err := rows.Scan(&op.ID, &kind, &op.ResourceType, &op.ResourceID, &payload, &enqueuedAt, &op.RetryCount, &op.LastError, &status); err != nil {
			return nil, fmt.Errorf("failed to scan sync operation: %w", err)
		}
		op.Kind = models.OperationKind(kind)
		op.Status = models.OperationStatus(status)
		if len(payload) > 0 {
			op.Payload = payload
		}
		op.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse enqueued_at for %s: %w", op.ID, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync operations: %w", err)
	}
	return ops, nil
}

func (s *SQLiteStore) Update(ctx context.Context, op models.SyncOperation) (bool, error) {
	query := `UPDATE sync_queue SET retry_count = ?, last_error = ?, status = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, op.RetryCount, op.LastError, string(op.Status), op.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update sync operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove sync operation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync operations: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
