package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/patchgate/pkg/blob"
)

// ManifestEntry describes a single file in a version's manifest.
type ManifestEntry struct {
	Path string    // repo-relative path, forward slashes
	Hash blob.Hash // content hash of the file's bytes
	Size int64     // byte size
}

// Manifest is a sorted set of ManifestEntry, ordered by path. Paths are
// unique within one manifest.
type Manifest []ManifestEntry

// Sort orders the manifest by path. All persisted and hashed manifests
// are sorted; Sort is idempotent.
func (m Manifest) Sort() {
	sort.Slice(m, func(i, j int) bool { return m[i].Path < m[j].Path })
}

// Lookup returns the entry for path, or false if absent.
func (m Manifest) Lookup(path string) (ManifestEntry, bool) {
	for _, e := range m {
		if e.Path == path {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// Artifact is a named logical project tracked by the store. Artifacts are
// created once and never mutated.
type Artifact struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Metadata  map[string]string
}

// Version is an immutable snapshot of an artifact. Parent references are
// plain id lookups, never live pointers: versions form a forest rooted at
// initial (parentless) versions and are safe to share across readers.
type Version struct {
	ID            string
	ArtifactID    string
	CreatedAt     time.Time
	BaseVersionID string // empty for an initial version
	CommitMessage string
	Manifest      Manifest
}

// VersionSummary is a manifest-free view used by listings.
type VersionSummary struct {
	ID            string
	CreatedAt     time.Time
	BaseVersionID string
	CommitMessage string
	FileCount     int
}

// DeriveVersionID computes the deterministic version id for an artifact
// and manifest: the first 16 hex characters of SHA-256 over the artifact
// id and the canonical serialization of the sorted manifest. Re-deriving
// the same file contents under the same artifact always yields the same
// id.
func DeriveVersionID(artifactID string, m Manifest) string {
	sorted := make(Manifest, len(m))
	copy(sorted, m)
	sorted.Sort()

	var b strings.Builder
	b.WriteString(artifactID)
	for _, e := range sorted {
		fmt.Fprintf(&b, "\x00%s\x00%s\x00%d", e.Path, e.Hash, e.Size)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

func manifestEntryID(versionID, path string) string {
	sum := sha256.Sum256([]byte(versionID + ":" + path))
	return hex.EncodeToString(sum[:])[:16]
}
