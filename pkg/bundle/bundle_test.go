package bundle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/patchgate/pkg/blob"
	"github.com/odvcencio/patchgate/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "catalog.db"), blob.NewStore(filepath.Join(dir, "blobs")), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func snapshotFiles(t *testing.T, st *store.Store, name string, files map[string]string) (string, string) {
	t.Helper()
	tree := t.TempDir()
	for path, content := range files {
		full := filepath.Join(tree, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	artifactID, versionID, err := st.SnapshotWorkspace(context.Background(), name, tree, "initial", nil)
	if err != nil {
		t.Fatalf("SnapshotWorkspace: %v", err)
	}
	return artifactID, versionID
}

// Exporting a version and importing into a fresh catalog reproduces
// the manifest, the contents, and the same version id.
func TestBundleRoundTrip(t *testing.T) {
	src := openTestStore(t)
	ctx := context.Background()

	_, versionID := snapshotFiles(t, src, "demo", map[string]string{
		"app.py":      "print('app')\n",
		"lib/util.py": "def noop():\n    pass\n",
		"docs/README": "read me\n",
	})

	var buf bytes.Buffer
	if err := Write(ctx, src, versionID, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dst := openTestStore(t)
	imported, err := Read(ctx, dst, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if imported != versionID {
		t.Fatalf("imported version = %s, want %s", imported, versionID)
	}

	original, err := src.GetVersion(ctx, versionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	got, err := dst.GetVersion(ctx, imported)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if len(got.Manifest) != len(original.Manifest) {
		t.Fatalf("manifest = %+v, want %+v", got.Manifest, original.Manifest)
	}
	for i, e := range original.Manifest {
		if got.Manifest[i] != e {
			t.Errorf("entry %d = %+v, want %+v", i, got.Manifest[i], e)
		}
	}
	data, err := dst.GetFile(ctx, imported, "lib/util.py")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(data) != "def noop():\n    pass\n" {
		t.Errorf("imported content = %q", data)
	}
}

// Importing into the source catalog is a no-op thanks to idempotent
// commits.
func TestBundleImportIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	artifactID, versionID := snapshotFiles(t, st, "demo", map[string]string{
		"a.txt": "alpha\n",
	})

	var buf bytes.Buffer
	if err := Write(ctx, st, versionID, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	imported, err := Read(ctx, st, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if imported != versionID {
		t.Errorf("imported = %s, want %s", imported, versionID)
	}
	versions, err := st.ListVersions(ctx, artifactID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("version count = %d, want 1", len(versions))
	}
}

// A version whose base is absent from the target catalog imports as an
// initial version.
func TestBundleImportMissingBase(t *testing.T) {
	src := openTestStore(t)
	ctx := context.Background()

	artifactID, baseID := snapshotFiles(t, src, "demo", map[string]string{
		"a.txt": "alpha\n",
	})
	manifest, err := src.GetVersion(ctx, baseID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	child := append(store.Manifest{}, manifest.Manifest...)
	extra, err := src.Blobs().Put([]byte("beta\n"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	child = append(child, store.ManifestEntry{Path: "b.txt", Hash: extra, Size: 5})
	childID, err := src.CommitVersion(ctx, artifactID, baseID, child, "add b")
	if err != nil {
		t.Fatalf("CommitVersion: %v", err)
	}

	var buf bytes.Buffer
	if err := Write(ctx, src, childID, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dst := openTestStore(t)
	imported, err := Read(ctx, dst, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	v, err := dst.GetVersion(ctx, imported)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.BaseVersionID != "" {
		t.Errorf("base = %q, want empty after degraded import", v.BaseVersionID)
	}
	if len(v.Manifest) != 2 {
		t.Errorf("manifest = %+v, want 2 entries", v.Manifest)
	}
}

func TestBundleRejectsCorruption(t *testing.T) {
	src := openTestStore(t)
	ctx := context.Background()

	_, versionID := snapshotFiles(t, src, "demo", map[string]string{
		"a.txt": "alpha\n",
	})
	var buf bytes.Buffer
	if err := Write(ctx, src, versionID, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// 1. Flipping a byte breaks the trailer checksum.
	corrupt := append([]byte{}, buf.Bytes()...)
	corrupt[len(corrupt)/2] ^= 0xff
	dst := openTestStore(t)
	if _, err := Read(ctx, dst, bytes.NewReader(corrupt)); !errors.Is(err, store.ErrIntegrity) {
		t.Errorf("corrupted stream error = %v, want ErrIntegrity", err)
	}

	// 2. A truncated stream is a format error.
	if _, err := Read(ctx, dst, bytes.NewReader(buf.Bytes()[:8])); !errors.Is(err, ErrFormat) {
		t.Errorf("truncated stream error = %v, want ErrFormat", err)
	}

	// 3. Wrong magic is a format error.
	wrong := append([]byte{}, buf.Bytes()...)
	wrong[0] = 'X'
	// Recompute the trailer so only the magic check can fail.
	body := wrong[:len(wrong)-32]
	sum := sha256sum(body)
	copy(wrong[len(wrong)-32:], sum)
	if _, err := Read(ctx, dst, bytes.NewReader(wrong)); !errors.Is(err, ErrFormat) {
		t.Errorf("bad magic error = %v, want ErrFormat", err)
	}
}

func sha256sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func TestBundleWriteUnknownVersion(t *testing.T) {
	st := openTestStore(t)
	var buf bytes.Buffer
	if err := Write(context.Background(), st, "missing", &buf); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown version error = %v, want ErrNotFound", err)
	}
}
