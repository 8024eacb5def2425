//go:build cgo

package history

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pytrace/internal/backends/git"
	"pytrace/internal/extract"
	"pytrace/internal/marker"
)

type gitFixture struct {
	t   *testing.T
	dir string
	env []string
}

func newGitFixture(t *testing.T) *gitFixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	f := &gitFixture{t: t, dir: t.TempDir()}
	f.env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Ada", "GIT_AUTHOR_EMAIL=ada@example.com",
		"GIT_COMMITTER_NAME=Ada", "GIT_COMMITTER_EMAIL=ada@example.com",
		"GIT_CONFIG_GLOBAL=/dev/null", "GIT_CONFIG_NOSYSTEM=1",
	)
	f.run("init", "-q", "-b", "main")
	return f
}

func (f *gitFixture) run(args ...string) {
	f.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = f.dir
	cmd.Env = f.env
	out, err := cmd.CombinedOutput()
	require.NoError(f.t, err, "git %v: %s", args, out)
}

func (f *gitFixture) write(name, content string) {
	f.t.Helper()
	p := filepath.Join(f.dir, filepath.FromSlash(name))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *gitFixture) commit(msg string, when time.Time) {
	f.t.Helper()
	date := when.Format(time.RFC3339)
	f.env = append(f.env, "GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date)
	f.run("add", "-A")
	f.run("commit", "-q", "-m", msg)
}

func TestMine_GitRenameAndMove(t *testing.T) {
	f := newGitFixture(t)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	f.write("pkg/core.py", "from tracing import traceability\n\n\n@traceability(\"CORE-1\")\ndef foo():\n    return 1\n")
	f.commit("add foo", start)

	f.write("pkg/core.py", "from tracing import traceability\n\n\n@traceability(\"CORE-1\")\ndef bar():\n    return 1\n")
	f.commit("rename foo to bar", start.Add(time.Hour))

	require.NoError(t, os.Remove(filepath.Join(f.dir, "pkg", "core.py")))
	f.write("pkg/other.py", "import os\n\nfrom tracing import traceability\n\n\n@traceability(\"CORE-1\")\ndef bar():\n    return os.sep\n")
	f.commit("move bar", start.Add(2*time.Hour))

	ctx := context.Background()
	walker, err := git.NewGitAdapter(ctx, f.dir)
	require.NoError(t, err)

	ex := extract.New("traceability")
	src, err := os.ReadFile(filepath.Join(f.dir, "pkg", "other.py"))
	require.NoError(t, err)
	records, err := ex.Extract(ctx, filepath.Join(walker.Root(), "pkg", "other.py"), src)
	require.NoError(t, err)
	reports := marker.Flatten(records)
	require.Len(t, reports, 1)

	hist, err := New(walker, ex, Options{Branch: "main"}).Mine(ctx, reports)
	require.NoError(t, err)

	entries := hist["CORE-1"]
	require.Len(t, entries, 3)
	assert.Equal(t, "move bar", entries[0].Message)
	assert.Contains(t, entries[0].SourceCode, "return os.sep")
	assert.Equal(t, "rename foo to bar", entries[1].Message)
	assert.Equal(t, "def bar():\n    return 1", entries[1].SourceCode)
	assert.Equal(t, "add foo", entries[2].Message)
	assert.Equal(t, "def foo():\n    return 1", entries[2].SourceCode)
	assert.True(t, entries[2].AuthorDate.Equal(start))

	since := start.Add(90 * time.Minute)
	hist, err = New(walker, ex, Options{Since: since}).Mine(ctx, reports)
	require.NoError(t, err)
	require.Len(t, hist["CORE-1"], 1)
	assert.Equal(t, "move bar", hist["CORE-1"][0].Message)
}
