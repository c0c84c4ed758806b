package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// SQLite persists captions across runs in a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the cache database at path. ":memory:" gives
// a throwaway database, handy in tests.
//
// The connection uses WAL mode and a 5 second busy timeout, and is limited
// to one open connection since SQLite allows a single writer.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open caption cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to caption cache: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion)
		return err
	case err != nil:
		return err
	case version > currentSchemaVersion:
		return fmt.Errorf("caption cache schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var caption string
	err := s.db.QueryRowContext(ctx, "SELECT caption FROM captions WHERE key = ?", key).Scan(&caption)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading caption: %w", err)
	}
	return caption, true, nil
}

func (s *SQLite) Put(ctx context.Context, key, caption string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captions (key, caption, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET caption = excluded.caption, created_at = excluded.created_at`,
		key, caption, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("writing caption: %w", err)
	}
	return nil
}

// Clear removes every cached caption.
func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM captions")
	return err
}

// Len returns the number of cached captions.
func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM captions").Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
