package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/patchgate/pkg/blob"
)

// CommitVersion computes the deterministic version id for the manifest
// and inserts the version row and its manifest rows as one durable
// transaction. Committing the same artifact+manifest twice is a no-op at
// the row level and returns the same id (primary-key conflict guard). A
// missing artifact or base version surfaces as ErrIntegrity: referential
// integrity is enforced by the schema, not merely assumed.
func (s *Store) CommitVersion(ctx context.Context, artifactID, baseVersionID string, manifest Manifest, commitMessage string) (string, error) {
	sorted := make(Manifest, len(manifest))
	copy(sorted, manifest)
	sorted.Sort()

	seen := make(map[string]bool, len(sorted))
	for _, e := range sorted {
		if seen[e.Path] {
			return "", fmt.Errorf("commit version: duplicate manifest path %q", e.Path)
		}
		seen[e.Path] = true
	}

	versionID := DeriveVersionID(artifactID, sorted)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("commit version: begin: %w", err)
	}
	defer tx.Rollback()

	var base sql.NullString
	if baseVersionID != "" {
		base = sql.NullString{String: baseVersionID, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO versions (version_id, artifact_id, created_at, base_version_id, commit_message)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(version_id) DO NOTHING`,
		versionID, artifactID, time.Now().UTC().Format(timeFormat), base, commitMessage)
	if err != nil {
		if isForeignKeyError(err) {
			return "", fmt.Errorf("commit version: artifact or base version missing: %w", ErrIntegrity)
		}
		return "", fmt.Errorf("commit version: %w", err)
	}

	for _, e := range sorted {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO file_manifests (manifest_id, version_id, repo_relative_path, content_hash, file_size)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT(version_id, repo_relative_path) DO NOTHING`,
			manifestEntryID(versionID, e.Path), versionID, e.Path, string(e.Hash), e.Size)
		if err != nil {
			if isForeignKeyError(err) {
				return "", fmt.Errorf("commit version: manifest row: %w", ErrIntegrity)
			}
			return "", fmt.Errorf("commit version: manifest row %q: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit version: commit: %w", err)
	}
	return versionID, nil
}

// GetVersion retrieves a version and its sorted manifest.
func (s *Store) GetVersion(ctx context.Context, versionID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT version_id, artifact_id, created_at, base_version_id, commit_message
        FROM versions WHERE version_id = ?`, versionID)

	var v Version
	var createdAt string
	var base, message sql.NullString
	if err := row.Scan(&v.ID, &v.ArtifactID, &createdAt, &base, &message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("version %s: %w", versionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	if t, err := time.Parse(timeFormat, createdAt); err == nil {
		v.CreatedAt = t
	}
	v.BaseVersionID = base.String
	v.CommitMessage = message.String

	rows, err := s.db.QueryContext(ctx, `
        SELECT repo_relative_path, content_hash, file_size
        FROM file_manifests
        WHERE version_id = ?
        ORDER BY repo_relative_path`, versionID)
	if err != nil {
		return nil, fmt.Errorf("get version: manifest: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e ManifestEntry
		var hash string
		if err := rows.Scan(&e.Path, &hash, &e.Size); err != nil {
			return nil, fmt.Errorf("get version: manifest scan: %w", err)
		}
		e.Hash = blob.Hash(hash)
		v.Manifest = append(v.Manifest, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get version: manifest rows: %w", err)
	}
	return &v, nil
}

// GetFile returns the content of a single file within a version.
func (s *Store) GetFile(ctx context.Context, versionID, path string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT content_hash FROM file_manifests
        WHERE version_id = ? AND repo_relative_path = ?`, versionID, path)

	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("file %s in version %s: %w", path, versionID, ErrNotFound)
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	data, err := s.blobs.Get(blob.Hash(hash))
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", path, err)
	}
	return data, nil
}

// ListVersions returns summaries of an artifact's versions in creation
// order. The artifact must exist.
func (s *Store) ListVersions(ctx context.Context, artifactID string) ([]VersionSummary, error) {
	if _, err := s.GetArtifact(ctx, artifactID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT v.version_id, v.created_at, v.base_version_id, v.commit_message,
               (SELECT COUNT(*) FROM file_manifests m WHERE m.version_id = v.version_id)
        FROM versions v
        WHERE v.artifact_id = ?
        ORDER BY v.created_at ASC, v.version_id ASC`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []VersionSummary
	for rows.Next() {
		var vs VersionSummary
		var createdAt string
		var base, message sql.NullString
		if err := rows.Scan(&vs.ID, &createdAt, &base, &message, &vs.FileCount); err != nil {
			return nil, fmt.Errorf("list versions: scan: %w", err)
		}
		if t, err := time.Parse(timeFormat, createdAt); err == nil {
			vs.CreatedAt = t
		}
		vs.BaseVersionID = base.String
		vs.CommitMessage = message.String
		out = append(out, vs)
	}
	return out, rows.Err()
}

// SiblingVersions returns versions of the artifact that share the given
// base but are not the given version. Used to surface logical drift when
// applying an approved patch.
func (s *Store) SiblingVersions(ctx context.Context, artifactID, baseVersionID, excludeVersionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT version_id FROM versions
        WHERE artifact_id = ? AND base_version_id = ? AND version_id != ?
        ORDER BY created_at ASC`, artifactID, baseVersionID, excludeVersionID)
	if err != nil {
		return nil, fmt.Errorf("sibling versions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sibling versions: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
