package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SnapshotWorkspace creates a new artifact from a workspace directory and
// commits its initial version. It returns (artifactID, versionID).
//
// The walk skips hidden entries, build-cache directories, and .pgignore
// matches. A single unreadable file does not abort the snapshot: it is
// logged and the resulting manifest excludes it.
func (s *Store) SnapshotWorkspace(ctx context.Context, name, sourceTree, commitMessage string, metadata map[string]string) (string, string, error) {
	manifest, err := s.BuildManifest(sourceTree)
	if err != nil {
		return "", "", fmt.Errorf("snapshot workspace: %w", err)
	}

	artifactID, err := s.CreateArtifact(ctx, name, metadata)
	if err != nil {
		return "", "", fmt.Errorf("snapshot workspace: %w", err)
	}

	versionID, err := s.CommitVersion(ctx, artifactID, "", manifest, commitMessage)
	if err != nil {
		return "", "", fmt.Errorf("snapshot workspace: %w", err)
	}
	return artifactID, versionID, nil
}

// BuildManifest walks a directory tree, stores every regular file as a
// blob, and returns the sorted manifest. The same walk backs both
// snapshotting and candidate-manifest construction after patch
// application, so identical trees always hash to identical manifests.
func (s *Store) BuildManifest(sourceTree string) (Manifest, error) {
	root, err := filepath.Abs(sourceTree)
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build manifest: %s is not a directory", sourceTree)
	}

	ignore := NewIgnoreChecker(root)
	var manifest Manifest

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			s.log.Warn("snapshot: skipping unreadable entry", "path", path, "error", walkErr)
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if ignore.IsIgnored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("snapshot: skipping unreadable file", "path", rel, "error", err)
			return nil
		}

		h, err := s.blobs.Put(content)
		if err != nil {
			return fmt.Errorf("store blob for %s: %w", rel, err)
		}

		manifest = append(manifest, ManifestEntry{
			Path: rel,
			Hash: h,
			Size: int64(len(content)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}

	manifest.Sort()
	return manifest, nil
}

// Materialize reconstructs every file of a version from its manifest and
// the blob store onto targetTree. Each blob is re-verified against its
// content hash before writing; a mismatch is fatal corruption
// (ErrIntegrity), never silently ignored.
func (s *Store) Materialize(ctx context.Context, versionID, targetTree string) error {
	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("materialize: %w", err)
	}

	if err := os.MkdirAll(targetTree, 0o755); err != nil {
		return fmt.Errorf("materialize: %w", err)
	}

	for _, e := range v.Manifest {
		content, err := s.blobs.VerifyGet(e.Hash)
		if err != nil {
			return fmt.Errorf("materialize %s: %w", e.Path, err)
		}

		dest := filepath.Join(targetTree, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("materialize %s: %w", e.Path, err)
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return fmt.Errorf("materialize %s: %w", e.Path, err)
		}
	}
	return nil
}
