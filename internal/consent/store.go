// Package consent gates extension activation behind a per-extension,
// per-scope user acknowledgment.
package consent

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Decision is a terminal consent outcome.
type Decision string

const (
	DecisionGranted Decision = "granted"
	DecisionDenied  Decision = "denied"
)

func (d Decision) Valid() bool {
	return d == DecisionGranted || d == DecisionDenied
}

// Store is the SQLite-backed consent record store, keyed by
// (workspace, extension, scope). Records survive process restarts.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing consent db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS consent_decisions (
			workspace TEXT NOT NULL,
			extension TEXT NOT NULL,
			scope TEXT NOT NULL,
			decision TEXT NOT NULL,
			record_id TEXT NOT NULL,
			decided_at_unix_ms INTEGER NOT NULL,
			PRIMARY KEY (workspace, extension, scope)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the persisted decision for the key, if any.
func (s *Store) Get(ctx context.Context, workspace, extension string, scope string) (Decision, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("consent store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	extension = strings.TrimSpace(extension)
	if extension == "" {
		return "", false, errors.New("missing extension name")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT decision FROM consent_decisions WHERE workspace = ? AND extension = ? AND scope = ?`,
		normalizeWorkspace(workspace), extension, strings.TrimSpace(scope))
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	d := Decision(raw)
	if !d.Valid() {
		return "", false, nil
	}
	return d, true, nil
}

// Put records a decision, replacing any prior one for the same key.
func (s *Store) Put(ctx context.Context, workspace, extension string, scope string, d Decision) error {
	if s == nil || s.db == nil {
		return errors.New("consent store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	extension = strings.TrimSpace(extension)
	if extension == "" {
		return errors.New("missing extension name")
	}
	if !d.Valid() {
		return errors.New("invalid consent decision")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consent_decisions (workspace, extension, scope, decision, record_id, decided_at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (workspace, extension, scope) DO UPDATE SET
		   decision = excluded.decision,
		   record_id = excluded.record_id,
		   decided_at_unix_ms = excluded.decided_at_unix_ms`,
		normalizeWorkspace(workspace), extension, strings.TrimSpace(scope),
		string(d), uuid.NewString(), time.Now().UnixMilli())
	return err
}

// Revoke deletes the decision for the key, returning consent to
// Unknown for the next refresh.
func (s *Store) Revoke(ctx context.Context, workspace, extension string, scope string) error {
	if s == nil || s.db == nil {
		return errors.New("consent store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	extension = strings.TrimSpace(extension)
	if extension == "" {
		return errors.New("missing extension name")
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM consent_decisions WHERE workspace = ? AND extension = ? AND scope = ?`,
		normalizeWorkspace(workspace), extension, strings.TrimSpace(scope))
	return err
}

func normalizeWorkspace(workspace string) string {
	workspace = strings.TrimSpace(workspace)
	if workspace == "" {
		return ""
	}
	return filepath.Clean(workspace)
}
