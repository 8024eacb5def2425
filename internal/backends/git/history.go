package git

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"pytrace/internal/errors"
)

// ErrStopWalk ends a Walk early without error
var ErrStopWalk = stderrors.New("stop walk")

// Commit represents information about a single commit
type Commit struct {
	Hash          string    `json:"hash"`
	Parents       []string  `json:"parents,omitempty"`
	AuthorName    string    `json:"authorName"`
	AuthorEmail   string    `json:"authorEmail"`
	AuthorDate    time.Time `json:"authorDate"`
	CommitterDate time.Time `json:"committerDate"`
	Message       string    `json:"message"`
}

// FirstParent returns the first parent hash, or "" for a root commit
func (c Commit) FirstParent() string {
	if len(c.Parents) == 0 {
		return ""
	}
	return c.Parents[0]
}

const (
	fieldSep  = "\x1f"
	recordSep = '\x1e'
)

// Format: hash, parents, author name, author email, author date, committer
// date and raw body, unit-separated, each record ending in a record separator
var logFormat = "--format=" + strings.Join([]string{"%H", "%P", "%an", "%ae", "%aI", "%cI", "%B"}, "%x1f") + "%x1e"

// Walk streams non-merge commits reachable from rev, newest first
func (g *GitAdapter) Walk(ctx context.Context, rev string, fn func(Commit) error) error {
	if rev == "" {
		rev = "HEAD"
	}

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := g.command(walkCtx, "log", "--no-merges", logFormat, rev, "--")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return errors.NewTraceError(errors.RepositoryUnavailable, "Failed to execute git command", err, nil)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	scanner.Split(splitRecords)

	var walkErr error
	stoppedEarly := false
	for scanner.Scan() {
		record := strings.TrimLeft(scanner.Text(), "\n")
		if record == "" {
			continue
		}
		commit, err := parseCommit(record)
		if err != nil {
			walkErr = err
			break
		}
		if err := fn(commit); err != nil {
			if stderrors.Is(err, ErrStopWalk) {
				stoppedEarly = true
			} else {
				walkErr = err
			}
			break
		}
	}
	if walkErr == nil && !stoppedEarly {
		walkErr = scanner.Err()
	}

	// git is killed when the walk ends before its output does
	cancel()
	waitErr := cmd.Wait()

	if walkErr != nil {
		return walkErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if waitErr != nil && !(stoppedEarly && isKilled(waitErr)) {
		return errors.NewTraceError(
			errors.RepositoryUnavailable,
			"Git command failed",
			waitErr,
			nil,
		).WithDetails(map[string]interface{}{
			"revision": rev,
			"stderr":   strings.TrimSpace(stderr.String()),
		})
	}
	return nil
}

// isKilled reports whether git exited because the walk was cut short
func isKilled(err error) bool {
	var exitErr interface{ ExitCode() int }
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode() == -1
	}
	return false
}

func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, recordSep); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func parseCommit(record string) (Commit, error) {
	parts := strings.SplitN(record, fieldSep, 7)
	if len(parts) != 7 {
		return Commit{}, fmt.Errorf("malformed git log record %q", record)
	}
	authorDate, err := time.Parse(time.RFC3339, parts[4])
	if err != nil {
		return Commit{}, fmt.Errorf("author date of %s: %w", parts[0], err)
	}
	committerDate, err := time.Parse(time.RFC3339, parts[5])
	if err != nil {
		return Commit{}, fmt.Errorf("committer date of %s: %w", parts[0], err)
	}
	return Commit{
		Hash:          parts[0],
		Parents:       strings.Fields(parts[1]),
		AuthorName:    parts[2],
		AuthorEmail:   parts[3],
		AuthorDate:    authorDate,
		CommitterDate: committerDate,
		Message:       strings.TrimSpace(parts[6]),
	}, nil
}
