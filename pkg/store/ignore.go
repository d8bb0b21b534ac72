package store

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// alwaysSkippedDirs are build-cache and VCS directories excluded from
// every snapshot walk, on top of the hidden-entry rule.
var alwaysSkippedDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	".git":         true,
	".pg":          true,
}

// IgnoreChecker determines whether a workspace path is excluded from
// snapshots. Hidden entries and alwaysSkippedDirs are excluded
// unconditionally; additional glob patterns come from a .pgignore file at
// the workspace root.
type IgnoreChecker struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern  string
	negated  bool
	hasSlash bool // pattern contains a slash, so match against full path
	regex    *regexp.Regexp
}

// NewIgnoreChecker creates an IgnoreChecker for the given workspace root.
// If a .pgignore file exists there, its patterns are parsed and applied.
func NewIgnoreChecker(root string) *IgnoreChecker {
	ic := &IgnoreChecker{}

	f, err := os.Open(filepath.Join(root, ".pgignore"))
	if err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if p := parseIgnoreLine(scanner.Text()); p != nil {
				ic.patterns = append(ic.patterns, *p)
			}
		}
	}
	return ic
}

func parseIgnoreLine(line string) *ignorePattern {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	p := ignorePattern{pattern: line}
	if strings.HasPrefix(line, "!") {
		p.negated = true
		p.pattern = line[1:]
	}
	p.pattern = strings.TrimSuffix(p.pattern, "/")
	p.hasSlash = strings.Contains(p.pattern, "/")
	p.regex = compileIgnorePattern(p.pattern)
	return &p
}

// compileIgnorePattern translates a gitignore-style glob into a regexp:
// "*" matches within a path segment, "**" matches across segments.
func compileIgnorePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			b.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			b.WriteString("[^/]")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return re
}

// IsIgnored reports whether the repo-relative path should be excluded.
// relPath uses forward slashes; isDir marks directories so whole subtrees
// can be pruned during the walk.
func (ic *IgnoreChecker) IsIgnored(relPath string, isDir bool) bool {
	base := relPath
	if idx := strings.LastIndex(relPath, "/"); idx >= 0 {
		base = relPath[idx+1:]
	}

	// Hidden entries are always skipped.
	if strings.HasPrefix(base, ".") {
		return true
	}
	if isDir && alwaysSkippedDirs[base] {
		return true
	}

	ignored := false
	for _, p := range ic.patterns {
		if p.regex == nil {
			continue
		}
		target := base
		if p.hasSlash {
			target = relPath
		}
		if p.regex.MatchString(target) {
			ignored = !p.negated
		}
	}
	return ignored
}
