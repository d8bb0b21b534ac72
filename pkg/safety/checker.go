package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/odvcencio/patchgate/pkg/store"
)

// Issue is a blocking finding: a detection added by a patch, or a file
// that fails to parse. Parse failures carry only Path and Reason.
type Issue struct {
	Capability Capability `json:"capability,omitempty"`
	Path       string     `json:"file_path"`
	Line       int        `json:"line_number,omitempty"`
	Snippet    string     `json:"code_snippet,omitempty"`
	Reason     string     `json:"reason"`
}

// Evaluation is the outcome of scanning a patched tree against its base.
type Evaluation struct {
	Safe        bool     `json:"safe"`
	SyntaxValid bool     `json:"syntax_valid"`
	Issues      []Issue  `json:"issues"`
	Warnings    []string `json:"warnings"`
	Delta       Delta    `json:"capability_delta"`
	Hash        string   `json:"evaluation_hash"`
}

// Checker evaluates candidate trees for capability drift relative to
// their base version. Analysis is additive-only: capabilities already
// present in the base never count against a patch.
type Checker struct {
	store     *store.Store
	analyzers map[string]SourceAnalyzer
	log       *slog.Logger
}

// NewChecker builds a checker with the default analyzer set.
func NewChecker(st *store.Store, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		store:     st,
		analyzers: make(map[string]SourceAnalyzer),
		log:       logger,
	}
	c.Register(NewPythonAnalyzer())
	c.Register(NewGoAnalyzer())
	return c
}

// Register adds an analyzer for its language, replacing any previous one.
func (c *Checker) Register(a SourceAnalyzer) {
	c.analyzers[a.Language()] = a
}

// blockingCapabilities always fail evaluation when newly introduced.
var blockingCapabilities = map[Capability]string{
	CapabilityEval:        "dynamic code execution introduced",
	CapabilityDeserialize: "unsafe deserialization introduced",
}

// warningCapabilities are surfaced but do not block on their own.
var warningCapabilities = map[Capability]bool{
	CapabilitySubprocess: true,
	CapabilityNetwork:    true,
	CapabilitySocket:     true,
}

// EvaluatePatch scans every analyzable file in the candidate manifest,
// scans the matching base files, and judges the capability delta. Files
// in unsupported languages are skipped. A candidate file that fails to
// parse is recorded as a blocking issue naming the file; a scan failure
// on one file does not abort evaluation and is reported as a warning.
func (c *Checker) EvaluatePatch(ctx context.Context, baseVersionID, diffText string, candidate store.Manifest) (*Evaluation, error) {
	eval := &Evaluation{Safe: true, SyntaxValid: true}

	baseDetections, err := c.scanVersion(ctx, baseVersionID)
	if err != nil {
		return nil, fmt.Errorf("evaluate patch: %w", err)
	}

	var candDetections []Detection
	for _, entry := range candidate {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lang := DetectLanguage(entry.Path)
		analyzer, ok := c.analyzers[lang]
		if !ok {
			continue
		}
		source, err := c.store.Blobs().Get(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("evaluate patch: read %s: %w", entry.Path, err)
		}
		if syntaxErrs := analyzer.CheckSyntax(entry.Path, source); len(syntaxErrs) > 0 {
			eval.SyntaxValid = false
			eval.Safe = false
			for _, msg := range syntaxErrs {
				eval.Issues = append(eval.Issues, Issue{Path: entry.Path, Reason: msg})
			}
			continue
		}
		found, err := analyzer.Scan(entry.Path, source)
		if err != nil {
			c.log.Warn("capability scan failed", "path", entry.Path, "error", err)
			eval.Warnings = append(eval.Warnings, fmt.Sprintf("scan failed for %s: %v", entry.Path, err))
			continue
		}
		candDetections = append(candDetections, found...)
	}

	eval.Delta = ComputeDelta(baseDetections, candDetections)

	for _, d := range eval.Delta.Added {
		if reason, blocking := blockingCapabilities[d.Capability]; blocking {
			eval.Safe = false
			eval.Issues = append(eval.Issues, Issue{
				Capability: d.Capability,
				Path:       d.Path,
				Line:       d.Line,
				Snippet:    d.Snippet,
				Reason:     reason,
			})
			continue
		}
		if warningCapabilities[d.Capability] {
			eval.Warnings = append(eval.Warnings,
				fmt.Sprintf("new %s capability at %s:%d", d.Capability, d.Path, d.Line))
		}
	}
	sort.Strings(eval.Warnings)

	eval.Hash = evaluationHash(baseVersionID, diffText, len(candidate))
	return eval, nil
}

// scanVersion collects detections for every analyzable file of a stored
// version. Files that fail base-side scanning are dropped so stale base
// capabilities never mask candidate additions.
func (c *Checker) scanVersion(ctx context.Context, versionID string) ([]Detection, error) {
	version, err := c.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("scan version %s: %w", versionID, err)
	}

	var detections []Detection
	for _, entry := range version.Manifest {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lang := DetectLanguage(entry.Path)
		analyzer, ok := c.analyzers[lang]
		if !ok {
			continue
		}
		source, err := c.store.Blobs().Get(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("scan version %s: read %s: %w", versionID, entry.Path, err)
		}
		found, err := analyzer.Scan(entry.Path, source)
		if err != nil {
			c.log.Warn("base capability scan failed", "version", versionID, "path", entry.Path, "error", err)
			continue
		}
		detections = append(detections, found...)
	}
	return detections, nil
}

// evaluationHash fingerprints one evaluation so a decision can later be
// checked against the exact inputs that were reviewed.
func evaluationHash(baseVersionID, diffText string, manifestLen int) string {
	var b strings.Builder
	b.WriteString(baseVersionID)
	b.WriteByte(':')
	b.WriteString(diffText)
	b.WriteByte(':')
	fmt.Fprintf(&b, "%d", manifestLen)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}
