package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/odvcencio/patchgate/pkg/blob"
)

const timeFormat = "2006-01-02T15:04:05.999999999Z07:00" // RFC3339Nano

const catalogSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
    artifact_id TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    metadata    TEXT
);

CREATE TABLE IF NOT EXISTS versions (
    version_id      TEXT PRIMARY KEY,
    artifact_id     TEXT NOT NULL,
    created_at      TEXT NOT NULL,
    base_version_id TEXT,
    commit_message  TEXT,
    FOREIGN KEY (artifact_id) REFERENCES artifacts(artifact_id),
    FOREIGN KEY (base_version_id) REFERENCES versions(version_id)
);

CREATE TABLE IF NOT EXISTS file_manifests (
    manifest_id        TEXT PRIMARY KEY,
    version_id         TEXT NOT NULL,
    repo_relative_path TEXT NOT NULL,
    content_hash       TEXT NOT NULL,
    file_size          INTEGER NOT NULL,
    FOREIGN KEY (version_id) REFERENCES versions(version_id),
    UNIQUE(version_id, repo_relative_path)
);

CREATE INDEX IF NOT EXISTS idx_version_artifact ON versions(artifact_id);
CREATE INDEX IF NOT EXISTS idx_manifest_version ON file_manifests(version_id);
`

// Store is the artifact/version catalog: a SQLite database holding
// artifacts, immutable versions, and file manifests, plus a blob store
// holding the physical bytes. The catalog owns only hash references into
// the blob store; blobs are never deleted.
//
// Every operation opens a short-lived transaction and closes it before
// returning. There are no long-held locks across calls.
type Store struct {
	db    *sql.DB
	blobs *blob.Store
	log   *slog.Logger
}

// Open opens (creating if necessary) the catalog database at dbPath and
// binds it to the given blob store. Foreign keys are enforced and WAL
// journaling is enabled.
func Open(dbPath string, blobs *blob.Store, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("open catalog: db path is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("open catalog: blob store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := filepath.Clean(dbPath) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	// The modernc driver applies pragmas per connection; force them here
	// as well so DSN parsing differences cannot silently disable FKs.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, blobs: blobs, log: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the database handle so the approval ledger can share the
// same catalog file and its foreign keys.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Blobs returns the bound blob store.
func (s *Store) Blobs() *blob.Store {
	return s.blobs
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(catalogSchema)
	return err
}

// isForeignKeyError reports whether err is a SQLite foreign-key
// constraint failure.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
