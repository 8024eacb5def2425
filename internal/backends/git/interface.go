package git

import "context"

// Backend represents a generic backend interface
type Backend interface {
	// ID returns the unique identifier for this backend
	ID() string

	// IsAvailable checks if the backend is available and functional
	IsAvailable(ctx context.Context) bool
}

// CommitWalker is the version-control access history mining needs
type CommitWalker interface {
	Backend

	// Root returns the top-level directory of the work tree
	Root() string

	// ResolveRevision returns the commit hash a revision names
	ResolveRevision(ctx context.Context, rev string) (string, error)

	// Walk calls fn for every non-merge commit reachable from rev, newest
	// first. Returning ErrStopWalk from fn ends the walk without error.
	Walk(ctx context.Context, rev string, fn func(Commit) error) error

	// Changes lists the files a commit modified relative to its first parent
	Changes(ctx context.Context, commit Commit) ([]FileChange, error)

	// Blob returns the content of a blob; the zero hash yields nil
	Blob(ctx context.Context, hash string) ([]byte, error)
}
