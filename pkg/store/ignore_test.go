package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// Test 1: hidden entries and cache directories never reach the manifest.
func TestSnapshot_SkipsHiddenAndCaches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tree := t.TempDir()
	writeTree(t, tree, map[string]string{
		"main.py":                "print('x')\n",
		".secret":                "hidden file",
		".config/settings":       "hidden dir",
		"__pycache__/m.pyc":      "bytecode",
		"node_modules/p/x.js":    "vendored",
		"src/nested/__init__.py": "",
	})

	_, versionID, err := s.SnapshotWorkspace(ctx, "demo", tree, "initial", nil)
	if err != nil {
		t.Fatalf("SnapshotWorkspace: %v", err)
	}

	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}

	paths := make(map[string]bool)
	for _, e := range v.Manifest {
		paths[e.Path] = true
	}
	for _, want := range []string{"main.py", "src/nested/__init__.py"} {
		if !paths[want] {
			t.Errorf("manifest missing %s", want)
		}
	}
	for _, skip := range []string{".secret", ".config/settings", "__pycache__/m.pyc", "node_modules/p/x.js"} {
		if paths[skip] {
			t.Errorf("manifest should not contain %s", skip)
		}
	}
}

// Test 2: .pgignore patterns prune the walk, with negation support.
func TestIgnoreChecker_Patterns(t *testing.T) {
	root := t.TempDir()
	content := "*.log\nbuild/\n!important.log\ndocs/**/tmp\n"
	if err := os.WriteFile(filepath.Join(root, ".pgignore"), []byte(content), 0o644); err != nil {
		t.Fatalf("write .pgignore: %v", err)
	}

	ic := NewIgnoreChecker(root)

	cases := []struct {
		path    string
		isDir   bool
		ignored bool
	}{
		{"debug.log", false, true},
		{"important.log", false, false},
		{"build", true, true},
		{"src/main.go", false, false},
		{"docs/a/tmp", false, true},
		{"docs/a/b/tmp", false, true},
		{".hidden", false, true},
	}
	for _, c := range cases {
		if got := ic.IsIgnored(c.path, c.isDir); got != c.ignored {
			t.Errorf("IsIgnored(%q, dir=%v) = %v, want %v", c.path, c.isDir, got, c.ignored)
		}
	}
}

// Test 3: an unreadable file is skipped, the snapshot still succeeds.
func TestSnapshot_UnreadableFileSkipped(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission bits are ignored when running as root")
	}

	s := openTestStore(t)
	ctx := context.Background()

	tree := t.TempDir()
	writeTree(t, tree, map[string]string{
		"good.txt": "readable",
		"bad.txt":  "unreadable",
	})
	if err := os.Chmod(filepath.Join(tree, "bad.txt"), 0o000); err != nil {
		t.Fatalf("Chmod: %v", err)
	}

	_, versionID, err := s.SnapshotWorkspace(ctx, "demo", tree, "initial", nil)
	if err != nil {
		t.Fatalf("SnapshotWorkspace: %v", err)
	}

	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if len(v.Manifest) != 1 || v.Manifest[0].Path != "good.txt" {
		t.Errorf("manifest = %+v, want only good.txt", v.Manifest)
	}
}
