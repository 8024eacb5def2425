package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pytrace/internal/errors"
)

// testRepo builds a throwaway repository with the git binary
type testRepo struct {
	t   *testing.T
	dir string
	env []string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	r := &testRepo{t: t, dir: t.TempDir()}
	r.env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Ada", "GIT_AUTHOR_EMAIL=ada@example.com",
		"GIT_COMMITTER_NAME=Ada", "GIT_COMMITTER_EMAIL=ada@example.com",
		"GIT_CONFIG_GLOBAL=/dev/null", "GIT_CONFIG_NOSYSTEM=1",
	)
	r.git("init", "-q", "-b", "main")
	return r
}

func (r *testRepo) git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.dir
	cmd.Env = r.env
	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, "git %v: %s", args, out)
	return string(out)
}

func (r *testRepo) write(name, content string) {
	r.t.Helper()
	p := filepath.Join(r.dir, filepath.FromSlash(name))
	require.NoError(r.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(r.t, os.WriteFile(p, []byte(content), 0o644))
}

func (r *testRepo) commit(msg string, when time.Time) {
	r.t.Helper()
	date := when.Format(time.RFC3339)
	r.env = append(r.env, "GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date)
	r.git("add", "-A")
	r.git("commit", "-q", "-m", msg)
}

func collect(t *testing.T, g *GitAdapter, rev string) []Commit {
	t.Helper()
	var commits []Commit
	require.NoError(t, g.Walk(context.Background(), rev, func(c Commit) error {
		commits = append(commits, c)
		return nil
	}))
	return commits
}

func TestNewGitAdapter_NotARepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	_, err := NewGitAdapter(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.RepositoryUnavailable))
}

func TestGitAdapter_WalkAndChanges(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	repo.write("a.py", "one\n")
	repo.write("b.py", "keep\n")
	repo.commit("first", base)

	repo.write("a.py", "two\n")
	repo.commit("second\n\nwith a body", base.Add(time.Hour))

	require.NoError(t, os.Rename(filepath.Join(repo.dir, "b.py"), filepath.Join(repo.dir, "c.py")))
	require.NoError(t, os.Remove(filepath.Join(repo.dir, "a.py")))
	repo.commit("third", base.Add(2*time.Hour))

	g, err := NewGitAdapter(context.Background(), filepath.Join(repo.dir))
	require.NoError(t, err)
	assert.Equal(t, BackendID, g.ID())
	assert.True(t, g.IsAvailable(context.Background()))

	commits := collect(t, g, "main")
	require.Len(t, commits, 3)
	assert.Equal(t, "third", commits[0].Message)
	assert.Equal(t, "second\n\nwith a body", commits[1].Message)
	assert.Equal(t, "first", commits[2].Message)
	assert.Equal(t, "Ada", commits[0].AuthorName)
	assert.Equal(t, "ada@example.com", commits[0].AuthorEmail)
	assert.True(t, commits[0].AuthorDate.Equal(base.Add(2*time.Hour)))
	assert.True(t, commits[2].CommitterDate.Equal(base))
	assert.Empty(t, commits[2].FirstParent())
	assert.Equal(t, commits[1].Hash, commits[0].FirstParent())

	head, err := g.HeadCommit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, commits[0].Hash, head)

	changes, err := g.Changes(context.Background(), commits[2])
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, StatusAdded, changes[0].Status)
	assert.Equal(t, "a.py", changes[0].NewPath)
	assert.Empty(t, changes[0].OldBlob)

	blob, err := g.Blob(context.Background(), changes[0].NewBlob)
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(blob))

	changes, err = g.Changes(context.Background(), commits[0])
	require.NoError(t, err)
	require.Len(t, changes, 2)
	byStatus := map[ChangeStatus]FileChange{}
	for _, c := range changes {
		byStatus[c.Status] = c
	}
	assert.Equal(t, "a.py", byStatus[StatusDeleted].OldPath)
	assert.Equal(t, "a.py", byStatus[StatusDeleted].Path())
	assert.Empty(t, byStatus[StatusDeleted].NewBlob)
	assert.Equal(t, "b.py", byStatus[StatusRenamed].OldPath)
	assert.Equal(t, "c.py", byStatus[StatusRenamed].NewPath)

	empty, err := g.Blob(context.Background(), ZeroHash)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestGitAdapter_WalkStopsEarly(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		repo.write("f.py", string(rune('a'+i)))
		repo.commit("c", base.Add(time.Duration(i)*time.Minute))
	}

	g, err := NewGitAdapter(context.Background(), repo.dir)
	require.NoError(t, err)

	seen := 0
	err = g.Walk(context.Background(), "", func(Commit) error {
		seen++
		if seen == 2 {
			return ErrStopWalk
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}

func TestGitAdapter_SkipsMerges(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.write("f.py", "1")
	repo.commit("root", base)
	repo.git("checkout", "-q", "-b", "side")
	repo.write("g.py", "2")
	repo.commit("side work", base.Add(time.Minute))
	repo.git("checkout", "-q", "main")
	repo.write("f.py", "3")
	repo.commit("main work", base.Add(2*time.Minute))
	repo.git("merge", "-q", "--no-edit", "side")

	g, err := NewGitAdapter(context.Background(), repo.dir)
	require.NoError(t, err)

	var messages []string
	for _, c := range collect(t, g, "main") {
		messages = append(messages, c.Message)
	}
	assert.ElementsMatch(t, []string{"root", "side work", "main work"}, messages)
}

func TestGitAdapter_UnknownRevision(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("f.py", "1")
	repo.commit("root", time.Now())

	g, err := NewGitAdapter(context.Background(), repo.dir)
	require.NoError(t, err)

	_, err = g.ResolveRevision(context.Background(), "does-not-exist")
	assert.True(t, errors.HasCode(err, errors.RepositoryUnavailable))

	err = g.Walk(context.Background(), "does-not-exist", func(Commit) error { return nil })
	assert.True(t, errors.HasCode(err, errors.RepositoryUnavailable))
}

func TestParseRawDiff(t *testing.T) {
	out := ":100644 100644 aaa bbb M\x00src/a.py\x00" +
		":100644 100644 ccc ddd R087\x00old.py\x00new.py\x00" +
		":000000 100644 " + ZeroHash + " eee A\x00added.py\x00"

	changes, err := parseRawDiff(out)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	assert.Equal(t, FileChange{Status: StatusModified, OldPath: "src/a.py", NewPath: "src/a.py", OldBlob: "aaa", NewBlob: "bbb"}, changes[0])
	assert.Equal(t, FileChange{Status: StatusRenamed, OldPath: "old.py", NewPath: "new.py", OldBlob: "ccc", NewBlob: "ddd"}, changes[1])
	assert.Equal(t, FileChange{Status: StatusAdded, NewPath: "added.py", NewBlob: "eee"}, changes[2])

	_, err = parseRawDiff("garbage\x00")
	assert.Error(t, err)
}
