package safety

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
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

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for path, content := range files {
		full := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return dir
}

func findDetections(ds []Detection, cap Capability) []Detection {
	var out []Detection
	for _, d := range ds {
		if d.Capability == cap {
			out = append(out, d)
		}
	}
	return out
}

func TestPythonScanDetectsEval(t *testing.T) {
	src := []byte("def run(expr):\n    return eval(expr)\n")
	found, err := NewPythonAnalyzer().Scan("run.py", src)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	evals := findDetections(found, CapabilityEval)
	if len(evals) != 1 {
		t.Fatalf("expected 1 eval detection, got %d: %+v", len(evals), found)
	}
	if evals[0].Line != 2 {
		t.Errorf("eval detected at line %d, want 2", evals[0].Line)
	}
	if evals[0].Snippet != "return eval(expr)" {
		t.Errorf("snippet = %q", evals[0].Snippet)
	}
}

func TestPythonScanImportsAndCalls(t *testing.T) {
	src := []byte(`import subprocess
import socket
import pickle

def go(cmd, data):
    subprocess.run(cmd)
    return pickle.loads(data)
`)
	found, err := NewPythonAnalyzer().Scan("go.py", src)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	// Import lines plus the two calls.
	if n := len(findDetections(found, CapabilitySubprocess)); n != 2 {
		t.Errorf("subprocess detections = %d, want 2 (import + call)", n)
	}
	if n := len(findDetections(found, CapabilitySocket)); n != 1 {
		t.Errorf("socket detections = %d, want 1", n)
	}
	if n := len(findDetections(found, CapabilityDeserialize)); n != 2 {
		t.Errorf("deserialize detections = %d, want 2 (import + call)", n)
	}
}

func TestPythonOpenModeClassification(t *testing.T) {
	src := []byte(`def touch(p):
    f = open(p, "w")
    f.close()

def peek(p):
    return open(p).read()
`)
	found, err := NewPythonAnalyzer().Scan("io.py", src)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	writes := findDetections(found, CapabilityFilesystemWrite)
	reads := findDetections(found, CapabilityFilesystemRead)
	if len(writes) != 1 {
		t.Fatalf("write detections = %d, want 1: %+v", len(writes), found)
	}
	if writes[0].Line != 2 {
		t.Errorf("write at line %d, want 2", writes[0].Line)
	}
	if len(reads) != 1 {
		t.Fatalf("read detections = %d, want 1: %+v", len(reads), found)
	}
	if reads[0].Line != 6 {
		t.Errorf("read at line %d, want 6", reads[0].Line)
	}
}

func TestPythonImportNameNoFalseMatch(t *testing.T) {
	src := []byte("import socketserver_helper\nimport requesting\n")
	found, err := NewPythonAnalyzer().Scan("mods.py", src)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected no detections from near-miss module names, got %+v", found)
	}
}

func TestGoScanSubprocessAndNetwork(t *testing.T) {
	src := []byte(`package main

import (
	"net/http"
	"os/exec"
)

func run() error {
	if _, err := http.Get("http://localhost"); err != nil {
		return err
	}
	return exec.Command("ls").Run()
}
`)
	found, err := NewGoAnalyzer().Scan("run.go", src)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n := len(findDetections(found, CapabilitySubprocess)); n != 2 {
		t.Errorf("subprocess detections = %d, want 2 (import + call)", n)
	}
	if len(findDetections(found, CapabilityNetwork)) == 0 {
		t.Errorf("expected network detections, got %+v", found)
	}
}

func TestCheckSyntaxReportsBrokenPython(t *testing.T) {
	a := NewPythonAnalyzer()
	if errs := a.CheckSyntax("ok.py", []byte("x = 1\n")); len(errs) != 0 {
		t.Fatalf("valid source flagged: %v", errs)
	}
	if errs := a.CheckSyntax("bad.py", []byte("def broken(:\n")); len(errs) == 0 {
		t.Fatalf("broken source not flagged")
	}
}

func TestComputeDelta(t *testing.T) {
	base := []Detection{
		{Capability: CapabilityNetwork, Path: "a.py", Line: 3},
		{Capability: CapabilitySubprocess, Path: "b.py", Line: 7},
	}
	cand := []Detection{
		{Capability: CapabilityNetwork, Path: "a.py", Line: 3},
		{Capability: CapabilityEval, Path: "a.py", Line: 10},
	}
	delta := ComputeDelta(base, cand)
	if len(delta.Added) != 1 || delta.Added[0].Capability != CapabilityEval {
		t.Errorf("Added = %+v, want single eval", delta.Added)
	}
	if len(delta.Removed) != 1 || delta.Removed[0].Capability != CapabilitySubprocess {
		t.Errorf("Removed = %+v, want single subprocess", delta.Removed)
	}
	if len(delta.Unchanged) != 1 || delta.Unchanged[0].Capability != CapabilityNetwork {
		t.Errorf("Unchanged = %+v, want single network", delta.Unchanged)
	}
}

func TestEvaluatePatchFlagsAddedEval(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// 1. Snapshot a benign base.
	base := writeTree(t, map[string]string{
		"calc.py": "def add(a, b):\n    return a + b\n",
	})
	artifactID, baseID, err := st.SnapshotWorkspace(ctx, "calc", base, "base", nil)
	if err != nil {
		t.Fatalf("SnapshotWorkspace: %v", err)
	}
	_ = artifactID

	// 2. Candidate adds an eval call.
	candTree := writeTree(t, map[string]string{
		"calc.py": "def add(a, b):\n    return a + b\n\ndef run(expr):\n    return eval(expr)\n",
	})
	candidate, err := st.BuildManifest(candTree)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	checker := NewChecker(st, testLogger())
	eval, err := checker.EvaluatePatch(ctx, baseID, "dummy diff", candidate)
	if err != nil {
		t.Fatalf("EvaluatePatch: %v", err)
	}
	if eval.Safe {
		t.Fatalf("patch introducing eval reported safe")
	}
	if len(eval.Issues) != 1 {
		t.Fatalf("issues = %+v, want exactly one", eval.Issues)
	}
	issue := eval.Issues[0]
	if issue.Capability != CapabilityEval || issue.Path != "calc.py" || issue.Line != 5 {
		t.Errorf("issue = %+v", issue)
	}
	if len(eval.Delta.Added) != 1 {
		t.Errorf("delta added = %+v, want exactly one", eval.Delta.Added)
	}
	if eval.Hash == "" || len(eval.Hash) != 16 {
		t.Errorf("evaluation hash = %q", eval.Hash)
	}
}

func TestEvaluatePatchBenignChange(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := writeTree(t, map[string]string{
		"util.py": "def double(x):\n    return x * 2\n",
	})
	_, baseID, err := st.SnapshotWorkspace(ctx, "util", base, "base", nil)
	if err != nil {
		t.Fatalf("SnapshotWorkspace: %v", err)
	}

	candTree := writeTree(t, map[string]string{
		"util.py": "def double(x):\n    return x * 2\n\ndef triple(x):\n    return x * 3\n",
	})
	candidate, err := st.BuildManifest(candTree)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	checker := NewChecker(st, testLogger())
	eval, err := checker.EvaluatePatch(ctx, baseID, "dummy diff", candidate)
	if err != nil {
		t.Fatalf("EvaluatePatch: %v", err)
	}
	if !eval.Safe {
		t.Errorf("benign patch reported unsafe: %+v", eval.Issues)
	}
	if !eval.SyntaxValid {
		t.Errorf("valid syntax reported invalid: %v", eval.Warnings)
	}
	if len(eval.Issues) != 0 {
		t.Errorf("issues = %+v, want none", eval.Issues)
	}
}

func TestEvaluatePatchWarnsWithoutBlocking(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := writeTree(t, map[string]string{
		"job.py": "def noop():\n    pass\n",
	})
	_, baseID, err := st.SnapshotWorkspace(ctx, "job", base, "base", nil)
	if err != nil {
		t.Fatalf("SnapshotWorkspace: %v", err)
	}

	candTree := writeTree(t, map[string]string{
		"job.py": "import subprocess\n\ndef noop():\n    subprocess.run([\"true\"])\n",
	})
	candidate, err := st.BuildManifest(candTree)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	checker := NewChecker(st, testLogger())
	eval, err := checker.EvaluatePatch(ctx, baseID, "dummy diff", candidate)
	if err != nil {
		t.Fatalf("EvaluatePatch: %v", err)
	}
	if !eval.Safe {
		t.Errorf("subprocess-only patch should warn, not block: %+v", eval.Issues)
	}
	if len(eval.Warnings) == 0 {
		t.Errorf("expected subprocess warnings, got none")
	}
}

func TestEvaluatePatchSyntaxErrorBlocksAsIssue(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := writeTree(t, map[string]string{
		"ok.py": "def f():\n    pass\n",
	})
	_, baseID, err := st.SnapshotWorkspace(ctx, "ok", base, "base", nil)
	if err != nil {
		t.Fatalf("SnapshotWorkspace: %v", err)
	}

	// Candidate no longer parses.
	candTree := writeTree(t, map[string]string{
		"ok.py": "def f(:\n    pass\n",
	})
	candidate, err := st.BuildManifest(candTree)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	checker := NewChecker(st, testLogger())
	eval, err := checker.EvaluatePatch(ctx, baseID, "dummy diff", candidate)
	if err != nil {
		t.Fatalf("EvaluatePatch: %v", err)
	}
	if eval.SyntaxValid {
		t.Fatalf("broken candidate reported syntax-valid")
	}
	if eval.Safe {
		t.Fatalf("broken candidate reported safe")
	}
	if len(eval.Issues) == 0 {
		t.Fatalf("syntax failure produced no issue; warnings = %v", eval.Warnings)
	}
	issue := eval.Issues[0]
	if issue.Path != "ok.py" || !strings.Contains(issue.Reason, "syntax error") {
		t.Errorf("issue = %+v, want syntax error for ok.py", issue)
	}
	if issue.Capability != "" {
		t.Errorf("capability = %q, want none for a parse failure", issue.Capability)
	}
}

func TestEvaluatePatchSkipsUnsupportedLanguage(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := writeTree(t, map[string]string{
		"notes.txt": "hello\n",
	})
	_, baseID, err := st.SnapshotWorkspace(ctx, "notes", base, "base", nil)
	if err != nil {
		t.Fatalf("SnapshotWorkspace: %v", err)
	}

	candTree := writeTree(t, map[string]string{
		"notes.txt": "hello\neval everything\n",
	})
	candidate, err := st.BuildManifest(candTree)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	checker := NewChecker(st, testLogger())
	eval, err := checker.EvaluatePatch(ctx, baseID, "dummy diff", candidate)
	if err != nil {
		t.Fatalf("EvaluatePatch: %v", err)
	}
	if !eval.Safe || len(eval.Issues) != 0 {
		t.Errorf("text files must not produce findings: %+v", eval.Issues)
	}
}
