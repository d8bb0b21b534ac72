package patch

import (
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// applyFileDiff computes the post-patch content of one file. Context and
// deleted lines are verified against the original; any mismatch returns
// ErrConflict (wrapped). For a deletion every removed line must match
// and nil content is returned.
func applyFileDiff(original []byte, fd *godiff.FileDiff) ([]byte, error) {
	name := fd.NewName
	if name == devNull {
		name = fd.OrigName
	}

	if fd.OrigName == devNull {
		return buildAddedFile(fd)
	}

	origLines, hadTrailingNewline := splitLines(original)
	var out []string
	noFinalNewline := false

	idx := 0 // current position in origLines
	for _, hunk := range fd.Hunks {
		hunkStart := int(hunk.OrigStartLine) - 1
		if hunk.OrigLines == 0 {
			// Pure-insertion hunk: OrigStartLine names the line the
			// insertion follows.
			hunkStart = int(hunk.OrigStartLine)
		}
		if hunkStart < idx || hunkStart > len(origLines) {
			return nil, fmt.Errorf("%w: %s: hunk at line %d out of range", ErrConflict, name, hunk.OrigStartLine)
		}

		// Copy unchanged lines before this hunk.
		for idx < hunkStart {
			out = append(out, origLines[idx])
			idx++
		}

		body := strings.Split(string(hunk.Body), "\n")
		for i, line := range body {
			if line == "" && i == len(body)-1 {
				continue // trailing newline of the hunk body
			}
			switch {
			case strings.HasPrefix(line, " "):
				text := line[1:]
				if idx >= len(origLines) || origLines[idx] != text {
					return nil, conflictAt(name, idx, origLines, text)
				}
				out = append(out, text)
				idx++
			case strings.HasPrefix(line, "-"):
				text := line[1:]
				if idx >= len(origLines) || origLines[idx] != text {
					return nil, conflictAt(name, idx, origLines, text)
				}
				idx++
			case strings.HasPrefix(line, "+"):
				out = append(out, line[1:])
			case strings.HasPrefix(line, "\\"):
				// "\ No newline at end of file"
				noFinalNewline = true
			case line == "":
				// An empty context line (some producers drop the space).
				if idx >= len(origLines) || origLines[idx] != "" {
					return nil, conflictAt(name, idx, origLines, "")
				}
				out = append(out, "")
				idx++
			default:
				return nil, fmt.Errorf("%w: %s: malformed hunk line %q", ErrFormat, name, line)
			}
		}
	}

	// Copy the remainder of the original.
	for idx < len(origLines) {
		out = append(out, origLines[idx])
		idx++
	}

	if fd.NewName == devNull {
		if len(out) != 0 {
			return nil, fmt.Errorf("%w: %s: deletion leaves %d line(s) unaccounted for", ErrConflict, name, len(out))
		}
		return nil, nil
	}

	content := strings.Join(out, "\n")
	if len(out) > 0 && hadTrailingNewline && !noFinalNewline {
		content += "\n"
	}
	return []byte(content), nil
}

// buildAddedFile assembles a newly created file from its insertion hunks.
func buildAddedFile(fd *godiff.FileDiff) ([]byte, error) {
	var lines []string
	noFinalNewline := false
	for _, hunk := range fd.Hunks {
		body := strings.Split(string(hunk.Body), "\n")
		for i, line := range body {
			if line == "" && i == len(body)-1 {
				continue
			}
			switch {
			case strings.HasPrefix(line, "+"):
				lines = append(lines, line[1:])
			case strings.HasPrefix(line, "\\"):
				noFinalNewline = true
			default:
				return nil, fmt.Errorf("%w: %s: new-file hunk contains non-addition line %q", ErrFormat, fd.NewName, line)
			}
		}
	}
	content := strings.Join(lines, "\n")
	if len(lines) > 0 && !noFinalNewline {
		content += "\n"
	}
	return []byte(content), nil
}

// splitLines splits content into lines without a trailing empty element,
// reporting whether the content ended with a newline.
func splitLines(content []byte) ([]string, bool) {
	if len(content) == 0 {
		return nil, true
	}
	s := string(content)
	hadTrailing := strings.HasSuffix(s, "\n")
	if hadTrailing {
		s = s[:len(s)-1]
	}
	return strings.Split(s, "\n"), hadTrailing
}

func conflictAt(name string, idx int, origLines []string, want string) error {
	have := "<eof>"
	if idx < len(origLines) {
		have = origLines[idx]
	}
	return fmt.Errorf("%w: %s:%d: expected %q, found %q", ErrConflict, name, idx+1, want, have)
}
