package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateArtifact creates a new named artifact container and returns its
// id. The artifact carries no versions yet; callers normally follow up
// with SnapshotWorkspace or CommitVersion. An artifact that never
// receives a version is an orphan (see ListOrphanedArtifacts).
func (s *Store) CreateArtifact(ctx context.Context, name string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("create artifact: name is required")
	}

	artifactID := uuid.NewString()

	var meta sql.NullString
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("create artifact: encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, name, created_at, metadata) VALUES (?, ?, ?, ?)`,
		artifactID, name, time.Now().UTC().Format(timeFormat), meta)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	return artifactID, nil
}

// EnsureArtifact inserts an artifact row with a caller-supplied id if
// it does not already exist. Bundle import uses this to recreate an
// artifact under its original id so version ids stay stable across
// catalogs.
func (s *Store) EnsureArtifact(ctx context.Context, artifactID, name string) error {
	if strings.TrimSpace(artifactID) == "" || strings.TrimSpace(name) == "" {
		return fmt.Errorf("ensure artifact: id and name are required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO artifacts (artifact_id, name, created_at, metadata)
        VALUES (?, ?, ?, NULL)
        ON CONFLICT(artifact_id) DO NOTHING`,
		artifactID, name, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("ensure artifact: %w", err)
	}
	return nil
}

// GetArtifact retrieves artifact metadata by id.
func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT artifact_id, name, created_at, metadata FROM artifacts WHERE artifact_id = ?`,
		artifactID)

	var a Artifact
	var createdAt string
	var meta sql.NullString
	if err := row.Scan(&a.ID, &a.Name, &createdAt, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("artifact %s: %w", artifactID, ErrNotFound)
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}

	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("get artifact: parse created_at: %w", err)
	}
	a.CreatedAt = t

	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("get artifact: decode metadata: %w", err)
		}
	}
	return &a, nil
}

// OrphanedArtifact describes an artifact with zero versions.
type OrphanedArtifact struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// ListOrphanedArtifacts finds artifacts that have no associated versions.
// An orphaned artifact is an invalid state left behind by a failed
// snapshot; it can be repaired by deletion or by adopting a workspace as
// its initial version.
func (s *Store) ListOrphanedArtifacts(ctx context.Context) ([]OrphanedArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT a.artifact_id, a.name, a.created_at
        FROM artifacts a
        LEFT JOIN versions v ON a.artifact_id = v.artifact_id
        WHERE v.version_id IS NULL
        ORDER BY a.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list orphaned artifacts: %w", err)
	}
	defer rows.Close()

	var orphans []OrphanedArtifact
	for rows.Next() {
		var o OrphanedArtifact
		var createdAt string
		if err := rows.Scan(&o.ID, &o.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("list orphaned artifacts: scan: %w", err)
		}
		if t, err := time.Parse(timeFormat, createdAt); err == nil {
			o.CreatedAt = t
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// DeleteOrphanedArtifacts removes every artifact that has no versions and
// returns how many were deleted. Artifacts with versions are never
// touched.
func (s *Store) DeleteOrphanedArtifacts(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM artifacts
        WHERE artifact_id IN (
            SELECT a.artifact_id
            FROM artifacts a
            LEFT JOIN versions v ON a.artifact_id = v.artifact_id
            WHERE v.version_id IS NULL
        )`)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete orphaned artifacts: %w", err)
	}
	return int(n), nil
}

// AdoptOrphanedArtifact repairs an orphaned artifact by snapshotting the
// given workspace tree as its initial version. It fails if the artifact
// already has versions.
func (s *Store) AdoptOrphanedArtifact(ctx context.Context, artifactID, sourceTree, commitMessage string) (string, error) {
	versions, err := s.ListVersions(ctx, artifactID)
	if err != nil {
		return "", fmt.Errorf("adopt orphaned artifact: %w", err)
	}
	if len(versions) > 0 {
		return "", fmt.Errorf("adopt orphaned artifact: artifact %s already has %d version(s)", artifactID, len(versions))
	}

	manifest, err := s.BuildManifest(sourceTree)
	if err != nil {
		return "", fmt.Errorf("adopt orphaned artifact: %w", err)
	}
	return s.CommitVersion(ctx, artifactID, "", manifest, commitMessage)
}
