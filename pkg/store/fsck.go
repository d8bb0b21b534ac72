package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/odvcencio/patchgate/pkg/blob"
)

// FsckReport summarizes a catalog consistency check.
type FsckReport struct {
	ArtifactCount     int
	VersionCount      int
	BlobsChecked      int
	MissingBlobs      []blob.Hash
	CorruptBlobs      []blob.Hash
	OrphanedArtifacts []OrphanedArtifact
}

// Clean reports whether the check found no problems.
func (r *FsckReport) Clean() bool {
	return len(r.MissingBlobs) == 0 && len(r.CorruptBlobs) == 0 && len(r.OrphanedArtifacts) == 0
}

// Fsck verifies the catalog: every manifest-referenced blob must exist
// and re-hash to its recorded content hash, and every artifact must have
// at least one version. Findings are reported, not repaired; see
// DeleteOrphanedArtifacts and AdoptOrphanedArtifact for repair paths.
func (s *Store) Fsck(ctx context.Context) (*FsckReport, error) {
	report := &FsckReport{}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`)
	if err := row.Scan(&report.ArtifactCount); err != nil {
		return nil, fmt.Errorf("fsck: count artifacts: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions`)
	if err := row.Scan(&report.VersionCount); err != nil {
		return nil, fmt.Errorf("fsck: count versions: %w", err)
	}

	orphans, err := s.ListOrphanedArtifacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("fsck: %w", err)
	}
	report.OrphanedArtifacts = orphans

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT content_hash FROM file_manifests`)
	if err != nil {
		return nil, fmt.Errorf("fsck: list hashes: %w", err)
	}
	defer rows.Close()

	var hashes []blob.Hash
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("fsck: scan hash: %w", err)
		}
		hashes = append(hashes, blob.Hash(h))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fsck: hash rows: %w", err)
	}

	for _, h := range hashes {
		report.BlobsChecked++
		_, err := s.blobs.VerifyGet(h)
		switch {
		case err == nil:
		case errors.Is(err, blob.ErrNotFound):
			report.MissingBlobs = append(report.MissingBlobs, h)
			s.log.Error("fsck: referenced blob missing", "hash", string(h))
		case errors.Is(err, blob.ErrIntegrity):
			report.CorruptBlobs = append(report.CorruptBlobs, h)
			s.log.Error("fsck: blob corrupt", "hash", string(h))
		default:
			return nil, fmt.Errorf("fsck: verify %s: %w", h, err)
		}
	}

	return report, nil
}
