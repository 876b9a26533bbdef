// Package storage provides the embedded SQLite storage layer.
//
// A single Storage value owns the database for the whole process. Readers
// (HTTP handlers) run concurrently under WAL; every write path serializes
// through one writer and executes inside an explicit transaction with
// rollback on error. The vector index lives in the same database and is
// maintained in the same transaction as the durable embedding rows.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// Storage wraps the SQLite handle. Single writer, many readers.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger

	// writeMu enforces the single-writer discipline on top of SQLite's own
	// locking so concurrent jobs never contend past the busy timeout.
	writeMu sync.Mutex
}

// Open creates (if needed) and opens the database at path, applies the
// required pragmas, and runs schema migration.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, model.Wrap(model.KindStorage, err, "create data dir")
		}
	}

	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(1)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, model.Wrap(model.KindStorage, err, "open database")
	}
	// WAL allows concurrent readers alongside the single writer; a small pool
	// keeps handler queries from queueing behind each other.
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, model.Wrap(model.KindStorage, err, "ping database")
	}

	s := &Storage{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks database reachability for the health endpoint.
func (s *Storage) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return model.Wrap(model.KindStorage, err, "ping")
	}
	return nil
}

// withTx runs fn inside a write transaction. Any error rolls back and comes
// out wrapped as a storage error.
func (s *Storage) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Wrap(model.KindStorage, err, "%s: begin", op)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if model.IsKind(err, model.KindNotFound) || model.IsKind(err, model.KindValidation) {
			return err
		}
		return model.Wrap(model.KindStorage, err, "%s", op)
	}
	if err := tx.Commit(); err != nil {
		return model.Wrap(model.KindStorage, err, "%s: commit", op)
	}
	return nil
}

// Time columns are stored as RFC3339 UTC text. A fixed format keeps string
// comparison chronological, which the archival and prune cutoffs rely on.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
