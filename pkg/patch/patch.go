// Package patch applies unified diffs against stored versions with
// all-or-nothing semantics. A diff is staged against an isolated
// materialization of the base version; nothing persisted is touched
// unless the whole diff applies cleanly.
package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/odvcencio/patchgate/pkg/store"
)

// ErrFormat marks a diff that violates the path contract: repo-relative
// paths only, no a/ b/ prefixes, no absolute paths except the deletion
// sentinel. Distinct from ErrConflict.
var ErrFormat = errors.New("diff format error")

// ErrConflict marks a diff that is well-formed but does not apply
// cleanly against the staged base.
var ErrConflict = errors.New("patch does not apply cleanly")

// devNull is the unified-diff sentinel for file creation and deletion.
const devNull = "/dev/null"

// ChangeType classifies what a diff did to one file.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// FileChange records a single file touched by a patch.
type FileChange struct {
	Path  string
	Type  ChangeType
	Hunks int
}

// ApplyResult reports the outcome of applying a diff to a base version.
// Validation, resolution, and conflict failures are reported here with
// Success=false; the Go error return of ApplyToWorkspace is reserved for
// storage corruption and infrastructure faults.
type ApplyResult struct {
	Success      bool
	FilesChanged []FileChange
	HunksTotal   int
	Manifest     store.Manifest // candidate manifest, nil unless Success
	Err          string
}

// Applier stages diffs against exported base versions. It never commits
// a version itself; see ApplyAndCreateVersion for the explicit commit
// step.
type Applier struct {
	store      *store.Store
	stagingDir string // parent for staging trees; "" means os.TempDir
	log        *slog.Logger
}

// NewApplier creates an Applier bound to a store. stagingDir may be
// empty to use the system temp directory.
func NewApplier(s *store.Store, stagingDir string, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{store: s, stagingDir: stagingDir, log: logger}
}

// ValidateDiffPaths checks the diff's file headers against the path
// contract. It returns ErrFormat (wrapped) on the first violation.
func ValidateDiffPaths(diffText string) error {
	for _, line := range strings.Split(diffText, "\n") {
		if !strings.HasPrefix(line, "--- ") && !strings.HasPrefix(line, "+++ ") {
			continue
		}
		path := strings.TrimSpace(line[4:])
		// Strip a trailing timestamp column if present.
		if idx := strings.IndexByte(path, '\t'); idx >= 0 {
			path = path[:idx]
		}
		if path == devNull {
			continue
		}
		if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
			return fmt.Errorf("%w: %q uses a VCS a/ b/ prefix; use repo-relative paths", ErrFormat, path)
		}
		if strings.HasPrefix(path, "/") {
			return fmt.Errorf("%w: %q is absolute; use repo-relative paths", ErrFormat, path)
		}
		if path == ".." || strings.HasPrefix(path, "../") || strings.Contains(path, "/../") {
			return fmt.Errorf("%w: %q escapes the workspace", ErrFormat, path)
		}
	}
	return nil
}

func failure(hunks int, err error) *ApplyResult {
	return &ApplyResult{Success: false, HunksTotal: hunks, Err: err.Error()}
}

// ApplyToWorkspace applies a unified diff to the base version inside an
// isolated staging tree and returns the candidate manifest. The staging
// tree lives exactly as long as this call; it is removed on every exit
// path. On any failure no persisted state has been mutated.
func (a *Applier) ApplyToWorkspace(ctx context.Context, baseVersionID, diffText string) (*ApplyResult, error) {
	if err := ValidateDiffPaths(diffText); err != nil {
		return failure(0, err), nil
	}

	fileDiffs, err := godiff.NewMultiFileDiffReader(strings.NewReader(diffText)).ReadAllFiles()
	if err != nil {
		return failure(0, fmt.Errorf("%w: %v", ErrFormat, err)), nil
	}
	if len(fileDiffs) == 0 {
		return failure(0, fmt.Errorf("%w: diff contains no file changes", ErrFormat)), nil
	}

	hunksTotal := 0
	for _, fd := range fileDiffs {
		hunksTotal += len(fd.Hunks)
	}

	if _, err := a.store.GetVersion(ctx, baseVersionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failure(hunksTotal, fmt.Errorf("base version not found: %s", baseVersionID)), nil
		}
		return nil, fmt.Errorf("apply to workspace: %w", err)
	}

	staging, err := os.MkdirTemp(a.stagingDir, "patchgate-apply-*")
	if err != nil {
		return nil, fmt.Errorf("apply to workspace: staging dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			a.log.Warn("staging cleanup failed", "dir", staging, "error", rmErr)
		}
	}()

	if err := a.store.Materialize(ctx, baseVersionID, staging); err != nil {
		// Corruption during export is fatal, not a patch failure.
		return nil, fmt.Errorf("apply to workspace: %w", err)
	}

	// Dry run: compute every file's post-patch content without writing.
	// A single conflict fails the whole patch.
	outputs := make(map[string][]byte, len(fileDiffs))
	deletions := make([]string, 0)
	changes := make([]FileChange, 0, len(fileDiffs))

	for _, fd := range fileDiffs {
		fc := classifyFileDiff(fd)
		changes = append(changes, fc)

		var original []byte
		if fc.Type != ChangeAdded {
			original, err = os.ReadFile(filepath.Join(staging, filepath.FromSlash(fc.Path)))
			if err != nil {
				return failure(hunksTotal, fmt.Errorf("%w: %s: base file missing from staged tree", ErrConflict, fc.Path)), nil
			}
		}

		patched, err := applyFileDiff(original, fd)
		if err != nil {
			return failure(hunksTotal, err), nil
		}
		if fc.Type == ChangeDeleted {
			deletions = append(deletions, fc.Path)
		} else {
			outputs[fc.Path] = patched
		}
	}

	// Real apply within the same staging tree.
	for path, content := range outputs {
		dest := filepath.Join(staging, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("apply %s: %w", path, err)
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return nil, fmt.Errorf("apply %s: %w", path, err)
		}
	}
	for _, path := range deletions {
		if err := os.Remove(filepath.Join(staging, filepath.FromSlash(path))); err != nil {
			return nil, fmt.Errorf("apply delete %s: %w", path, err)
		}
	}

	// Re-walk the staging tree into the candidate manifest. Committing a
	// version from it is a separate, explicit step so that safety
	// evaluation can run first.
	manifest, err := a.store.BuildManifest(staging)
	if err != nil {
		return nil, fmt.Errorf("apply to workspace: candidate manifest: %w", err)
	}

	return &ApplyResult{
		Success:      true,
		FilesChanged: changes,
		HunksTotal:   hunksTotal,
		Manifest:     manifest,
	}, nil
}

// ApplyAndCreateVersion applies the diff and, only on success, commits
// the resulting manifest as a new version with the base as parent.
// Returns (success, versionID, errorMessage).
func (a *Applier) ApplyAndCreateVersion(ctx context.Context, artifactID, baseVersionID, diffText, commitMessage string) (bool, string, string, error) {
	result, err := a.ApplyToWorkspace(ctx, baseVersionID, diffText)
	if err != nil {
		return false, "", "", err
	}
	if !result.Success {
		return false, "", result.Err, nil
	}

	versionID, err := a.store.CommitVersion(ctx, artifactID, baseVersionID, result.Manifest, commitMessage)
	if err != nil {
		return false, "", "", fmt.Errorf("apply and create version: %w", err)
	}
	return true, versionID, "", nil
}

// classifyFileDiff derives the touched path and change type from the
// diff header names.
func classifyFileDiff(fd *godiff.FileDiff) FileChange {
	fc := FileChange{Hunks: len(fd.Hunks)}
	switch {
	case fd.OrigName == devNull:
		fc.Type = ChangeAdded
		fc.Path = fd.NewName
	case fd.NewName == devNull:
		fc.Type = ChangeDeleted
		fc.Path = fd.OrigName
	default:
		fc.Type = ChangeModified
		fc.Path = fd.NewName
	}
	return fc
}
