// Package git reads commits, changed files and blobs from a repository by
// running the git binary.
package git

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"pytrace/internal/errors"
)

const (
	// BackendID is the unique identifier for the Git backend
	BackendID = "git"

	// ZeroHash marks a missing side of a change
	ZeroHash = "0000000000000000000000000000000000000000"
)

// GitAdapter implements CommitWalker with the git command line
type GitAdapter struct {
	repoRoot string
	gitPath  string
}

// NewGitAdapter creates an adapter for the repository containing dir.
// It fails when git is missing or dir is not inside a work tree.
func NewGitAdapter(ctx context.Context, dir string) (*GitAdapter, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, errors.NewTraceError(
			errors.RepositoryUnavailable,
			"git executable not found",
			err,
			nil,
		)
	}

	adapter := &GitAdapter{repoRoot: dir, gitPath: gitPath}
	top, err := adapter.executeGitCommand(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, errors.NewTraceError(
			errors.RepositoryUnavailable,
			"Not a git repository: "+dir,
			err,
			nil,
		).WithDetails(map[string]interface{}{"dir": dir})
	}
	adapter.repoRoot = filepath.Clean(strings.TrimSpace(string(top)))
	return adapter, nil
}

// ID returns the backend identifier
func (g *GitAdapter) ID() string {
	return BackendID
}

// Root returns the top-level directory of the work tree
func (g *GitAdapter) Root() string {
	return g.repoRoot
}

// IsAvailable checks that the repository can still be queried
func (g *GitAdapter) IsAvailable(ctx context.Context) bool {
	_, err := g.executeGitCommand(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// ResolveRevision returns the full hash rev points at
func (g *GitAdapter) ResolveRevision(ctx context.Context, rev string) (string, error) {
	out, err := g.executeGitCommand(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", errors.NewTraceError(
			errors.RepositoryUnavailable,
			"Unknown revision "+rev,
			err,
			nil,
		).WithDetails(map[string]interface{}{"revision": rev})
	}
	return strings.TrimSpace(string(out)), nil
}

// HeadCommit returns the hash of HEAD
func (g *GitAdapter) HeadCommit(ctx context.Context) (string, error) {
	return g.ResolveRevision(ctx, "HEAD")
}

// Blob returns the content of a blob object
func (g *GitAdapter) Blob(ctx context.Context, hash string) ([]byte, error) {
	if hash == "" || hash == ZeroHash {
		return nil, nil
	}
	return g.executeGitCommand(ctx, "cat-file", "blob", hash)
}

// command builds a git invocation running in the repository root
func (g *GitAdapter) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, g.gitPath, args...)
	cmd.Dir = g.repoRoot
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	return cmd
}

// executeGitCommand runs a git command and returns its raw output
func (g *GitAdapter) executeGitCommand(ctx context.Context, args ...string) ([]byte, error) {
	cmd := g.command(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Check if it's an exit error with stderr
		if _, ok := err.(*exec.ExitError); ok {
			return nil, errors.NewTraceError(
				errors.RepositoryUnavailable,
				"Git command failed",
				err,
				nil,
			).WithDetails(map[string]interface{}{
				"args":   args,
				"stderr": strings.TrimSpace(stderr.String()),
			})
		}

		return nil, errors.NewTraceError(
			errors.RepositoryUnavailable,
			"Failed to execute git command",
			err,
			nil,
		)
	}

	return output, nil
}
