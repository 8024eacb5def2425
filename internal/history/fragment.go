package history

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

const fragmentContext = 3

// diffFragment returns the unified diff from oldSrc to newSrc restricted to
// hunks whose new-side range overlaps lines [start, end]. It returns "" when
// no such hunk exists. oldPath is empty for files added by the commit.
func diffFragment(oldPath, newPath string, oldSrc, newSrc []byte, start, end int) (string, error) {
	from := "/dev/null"
	if oldPath != "" {
		from = "a/" + oldPath
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(string(oldSrc)),
		B:        splitLines(string(newSrc)),
		FromFile: from,
		ToFile:   "b/" + newPath,
		Context:  fragmentContext,
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", nil
	}

	fd, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return "", err
	}

	kept := fd.Hunks[:0]
	for _, h := range fd.Hunks {
		if overlaps(h, start, end) {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		return "", nil
	}
	fd.Hunks = kept

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func overlaps(h *diff.Hunk, start, end int) bool {
	hunkStart := int(h.NewStartLine)
	hunkEnd := hunkStart + int(h.NewLines) - 1
	if h.NewLines == 0 {
		// Pure deletion; the hunk sits after line NewStartLine
		hunkEnd = hunkStart
	}
	return hunkStart <= end && hunkEnd >= start
}

// splitLines splits s after each newline, terminating a final partial line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}
