package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no blob with the requested hash exists.
var ErrNotFound = errors.New("blob not found")

// ErrIntegrity is returned when stored bytes no longer match their hash.
// It indicates on-disk corruption, not caller error.
var ErrIntegrity = errors.New("blob integrity violation")

// Hash is a 64-character hex-encoded SHA-256 digest of blob content.
type Hash string

// HashBytes computes the content hash for a byte sequence.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// Store is a content-addressed blob store with a 2-character fan-out
// directory layout: blobs/ab/cdef0123... Content is stored as raw bytes
// and deduplicated by hash. Blobs are never mutated or deleted, so the
// store is safe under concurrent readers and writers.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given directory. The blobs/
// subdirectory is created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the directory the store was created with.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) blobPath(h Hash) string {
	return filepath.Join(s.root, "blobs", string(h[:2]), string(h[2:]))
}

// Has reports whether the store contains a blob with the given hash.
func (s *Store) Has(h Hash) bool {
	if len(h) < 3 {
		return false
	}
	_, err := os.Stat(s.blobPath(h))
	return err == nil
}

// Put stores a blob and returns its content hash. The hash is computed
// before any storage decision, so Put is idempotent: if a blob with that
// hash already exists no write occurs. Writes are atomic: data is written
// to a temp file and then renamed into place.
func (s *Store) Put(data []byte) (Hash, error) {
	h := HashBytes(data)

	// Fast path: already exists.
	if s.Has(h) {
		return h, nil
	}

	dir := filepath.Join(s.root, "blobs", string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("blob put mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("blob put tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("blob put write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("blob put close: %w", err)
	}

	if err := os.Rename(tmpName, s.blobPath(h)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("blob put rename: %w", err)
	}

	return h, nil
}

// Get retrieves a blob by content hash.
func (s *Store) Get(h Hash) ([]byte, error) {
	if len(h) < 3 {
		return nil, fmt.Errorf("blob get %q: %w", h, ErrNotFound)
	}
	data, err := os.ReadFile(s.blobPath(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob get %s: %w", h, ErrNotFound)
		}
		return nil, fmt.Errorf("blob get %s: %w", h, err)
	}
	return data, nil
}

// VerifyGet retrieves a blob and re-verifies its content hash. A mismatch
// is reported as ErrIntegrity and means the store is corrupted.
func (s *Store) VerifyGet(h Hash) ([]byte, error) {
	data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if got := HashBytes(data); got != h {
		return nil, fmt.Errorf("blob %s: content hashes to %s: %w", h, got, ErrIntegrity)
	}
	return data, nil
}
