package git

import (
	"context"
	"fmt"
	"strings"
)

// ChangeStatus is the single-letter status git reports for a changed file
type ChangeStatus byte

const (
	StatusAdded    ChangeStatus = 'A'
	StatusModified ChangeStatus = 'M'
	StatusDeleted  ChangeStatus = 'D'
	StatusRenamed  ChangeStatus = 'R'
	StatusCopied   ChangeStatus = 'C'
	StatusType     ChangeStatus = 'T'
)

// FileChange represents one file a commit modified
type FileChange struct {
	Status  ChangeStatus `json:"status"`
	OldPath string       `json:"oldPath,omitempty"` // Empty when added
	NewPath string       `json:"newPath,omitempty"` // Empty when deleted
	OldBlob string       `json:"oldBlob,omitempty"`
	NewBlob string       `json:"newBlob,omitempty"`
}

// Path returns the path the file has after the commit, or before it when
// the file was deleted
func (f FileChange) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// Changes lists files modified by commit relative to its first parent.
// Renames are detected, so a moved file is one change with both paths.
func (g *GitAdapter) Changes(ctx context.Context, commit Commit) ([]FileChange, error) {
	args := []string{"diff-tree", "-r", "-M", "--raw", "-z", "--no-abbrev", "--no-commit-id", "--root"}
	if parent := commit.FirstParent(); parent != "" {
		args = append(args, parent)
	}
	args = append(args, commit.Hash)

	output, err := g.executeGitCommand(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseRawDiff(string(output))
}

// parseRawDiff parses "diff-tree --raw -z" output. Each entry is
// ":oldmode newmode oldsha newsha status" followed by one path, or two for
// renames and copies, all NUL-terminated.
func parseRawDiff(output string) ([]FileChange, error) {
	fields := strings.Split(output, "\x00")
	changes := make([]FileChange, 0, len(fields)/2)

	for i := 0; i < len(fields); i++ {
		header := fields[i]
		if header == "" {
			continue
		}
		if !strings.HasPrefix(header, ":") {
			return nil, fmt.Errorf("unexpected diff-tree entry %q", header)
		}
		parts := strings.Fields(header[1:])
		if len(parts) != 5 || parts[4] == "" {
			return nil, fmt.Errorf("malformed diff-tree entry %q", header)
		}

		change := FileChange{
			Status:  ChangeStatus(parts[4][0]),
			OldBlob: parts[2],
			NewBlob: parts[3],
		}

		paths := 1
		if change.Status == StatusRenamed || change.Status == StatusCopied {
			paths = 2
		}
		if i+paths >= len(fields) {
			return nil, fmt.Errorf("truncated diff-tree entry %q", header)
		}
		first := fields[i+1]
		second := first
		if paths == 2 {
			second = fields[i+2]
		}
		i += paths

		switch change.Status {
		case StatusAdded:
			change.NewPath = first
			change.OldBlob = ""
		case StatusDeleted:
			change.OldPath = first
			change.NewBlob = ""
		default:
			change.OldPath = first
			change.NewPath = second
		}
		if change.OldBlob == ZeroHash {
			change.OldBlob = ""
		}
		if change.NewBlob == ZeroHash {
			change.NewBlob = ""
		}
		changes = append(changes, change)
	}
	return changes, nil
}
