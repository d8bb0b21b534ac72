package blob

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// Test 1: Put returns the SHA-256 hex digest of the content.
func TestPut_ReturnsContentHash(t *testing.T) {
	s := NewStore(t.TempDir())

	h, err := s.Put([]byte("hello world\n"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	want := HashBytes([]byte("hello world\n"))
	if h != want {
		t.Errorf("Put hash = %s, want %s", h, want)
	}
	if len(h) != 64 {
		t.Errorf("hash length = %d, want 64", len(h))
	}
}

// Test 2: Get round-trips the stored bytes.
func TestPutGet_RoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	content := []byte("some\x00binary\xffcontent")
	h, err := s.Put(content)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("Get = %q, want %q", got, content)
	}
}

// Test 3: storing identical content twice results in one physical blob
// and no error.
func TestPut_Dedup(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	h1, err := s.Put([]byte("same bytes"))
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	h2, err := s.Put([]byte("same bytes"))
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ: %s vs %s", h1, h2)
	}

	// Exactly one file under the shard directory.
	shard := filepath.Join(dir, "blobs", string(h1[:2]))
	entries, err := os.ReadDir(shard)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("shard contains %d entries, want 1", len(entries))
	}
}

// Test 4: blobs are sharded by the first two hex characters.
func TestPut_ShardLayout(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	h, err := s.Put([]byte("layout"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	path := filepath.Join(dir, "blobs", string(h[:2]), string(h[2:]))
	if _, err := os.Stat(path); err != nil {
		t.Errorf("blob not at sharded path %s: %v", path, err)
	}
}

// Test 5: Get on a missing hash returns ErrNotFound.
func TestGet_NotFound(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Get(HashBytes([]byte("never stored")))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

// Test 6: VerifyGet detects on-disk corruption as ErrIntegrity.
func TestVerifyGet_Corruption(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	h, err := s.Put([]byte("pristine"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Corrupt the stored bytes directly.
	path := filepath.Join(dir, "blobs", string(h[:2]), string(h[2:]))
	if err := os.WriteFile(path, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}

	if _, err := s.VerifyGet(h); !errors.Is(err, ErrIntegrity) {
		t.Errorf("VerifyGet error = %v, want ErrIntegrity", err)
	}

	// Plain Get does not verify and still returns the bytes.
	if _, err := s.Get(h); err != nil {
		t.Errorf("Get after corruption: %v", err)
	}
}

// Test 7: Has reflects presence.
func TestHas(t *testing.T) {
	s := NewStore(t.TempDir())

	h, err := s.Put([]byte("present"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Has(h) {
		t.Error("Has(stored) = false")
	}
	if s.Has(HashBytes([]byte("absent"))) {
		t.Error("Has(absent) = true")
	}
}
