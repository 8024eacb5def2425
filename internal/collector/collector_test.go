package collector

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pytrace/internal/backends/git"
	"pytrace/internal/config"
	"pytrace/internal/errors"
	"pytrace/internal/extract"
	"pytrace/internal/marker"
	"pytrace/internal/observe"
)

// keyLines treats each "KEY" or "KEY:raw" line as one decorated function
type keyLines struct{}

func (keyLines) Extract(_ context.Context, path string, source []byte) ([]marker.ExtractionRecord, error) {
	var records []marker.ExtractionRecord
	for i, line := range strings.Split(strings.TrimSpace(string(source)), "\n") {
		if line == "" {
			continue
		}
		key, raw, _ := strings.Cut(line, ":")
		md := marker.Metadata{}
		if raw == "raw" {
			md["owner"] = marker.Raw("lookup_owner()")
		}
		records = append(records, marker.ExtractionRecord{
			Location: marker.Location{FilePath: path, FunctionName: "fn_" + key, LineNumber: i + 1, EndLineNumber: i + 1, SourceCode: line},
			Markers:  []marker.Marker{{Key: key, Metadata: md}},
		})
	}
	return records, nil
}

type stubResolver map[string][]marker.Marker

func (s stubResolver) Resolve(_ context.Context, _, name string) ([]marker.Marker, error) {
	if m, ok := s[name]; ok {
		return m, nil
	}
	return nil, errors.NewTraceError(errors.TargetNotFound, name, nil, nil)
}

// singleCommit is a repository whose only commit added every file
type singleCommit struct {
	root    string
	files   map[string]string
	corrupt bool
}

func (s *singleCommit) ID() string                       { return "single" }
func (s *singleCommit) IsAvailable(context.Context) bool { return !s.corrupt }
func (s *singleCommit) Root() string                     { return s.root }

func (s *singleCommit) ResolveRevision(context.Context, string) (string, error) {
	return "c0ffee", nil
}

func (s *singleCommit) Walk(_ context.Context, _ string, fn func(git.Commit) error) error {
	err := fn(git.Commit{
		Hash:          "c0ffee",
		AuthorName:    "Ada",
		AuthorDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		CommitterDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Message:       "initial\n",
	})
	if err == git.ErrStopWalk {
		return nil
	}
	return err
}

func (s *singleCommit) Changes(context.Context, git.Commit) ([]git.FileChange, error) {
	var out []git.FileChange
	for p := range s.files {
		out = append(out, git.FileChange{Status: git.StatusAdded, NewPath: p, NewBlob: p})
	}
	return out, nil
}

func (s *singleCommit) Blob(_ context.Context, hash string) ([]byte, error) {
	return []byte(s.files[hash]), nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestCollect_StaticScanSortedByKey(t *testing.T) {
	root := writeTree(t, map[string]string{
		"b.py":     "KEY-2",
		"a/one.py": "KEY-3\nKEY-1",
	})
	cfg := config.DefaultConfig()
	cfg.BaseDirectory = root

	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	c, err := New(cfg, nil, WithExtractor(keyLines{}), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Collect(context.Background())
	require.NoError(t, err)

	var keys []string
	for _, r := range res.Reports {
		keys = append(keys, r.Key)
		assert.Nil(t, r.History)
	}
	assert.Equal(t, []string{"KEY-1", "KEY-2", "KEY-3"}, keys)
	assert.Equal(t, fixed.UTC(), res.GeneratedAt)
	assert.Equal(t, config.ModeStaticOnly, res.Mode)
	assert.False(t, res.HistoryEnabled)
	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)
}

func TestCollect_EmptyTree(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseDirectory = t.TempDir()

	c, err := New(cfg, nil, WithExtractor(keyLines{}))
	require.NoError(t, err)
	res, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.Reports)
	assert.Empty(t, res.Reports)
}

func TestCollect_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.Format = "xml"

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ConfigInvalid))
}

func TestCollect_DynamicModeUsesResolver(t *testing.T) {
	root := writeTree(t, map[string]string{"m.py": "KEY-1:raw"})
	cfg := config.DefaultConfig()
	cfg.BaseDirectory = root
	cfg.Mode = "module-import"

	resolver := stubResolver{"fn_KEY-1": {{Key: "KEY-1", Metadata: marker.Metadata{"owner": marker.String("qa")}}}}
	c, err := New(cfg, nil, WithExtractor(keyLines{}), WithResolver(resolver))
	require.NoError(t, err)

	res, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Reports, 1)
	assert.True(t, res.Reports[0].IsComplete)
	assert.Equal(t, marker.String("qa"), res.Reports[0].Metadata["owner"])
	assert.Equal(t, config.ModeStaticPlusDynamic, res.Mode)
}

func TestCollect_StaticModeRejectsRaw(t *testing.T) {
	root := writeTree(t, map[string]string{"m.py": "KEY-1:raw"})
	cfg := config.DefaultConfig()
	cfg.BaseDirectory = root

	c, err := New(cfg, nil, WithExtractor(keyLines{}))
	require.NoError(t, err)
	_, err = c.Collect(context.Background())
	assert.True(t, errors.HasCode(err, errors.StaticMode))
}

func TestCollect_AttachesHistory(t *testing.T) {
	files := map[string]string{"a.py": "KEY-1", "b.py": "KEY-2"}
	root := writeTree(t, files)
	cfg := config.DefaultConfig()
	cfg.BaseDirectory = root
	cfg.History.Enabled = true
	cfg.History.Cache.Enabled = true
	cfg.History.CommitURLTemplate = "https://git.example/{commit}"

	rec := &observe.Recorder{}
	walker := &singleCommit{root: root, files: files}
	c, err := New(cfg, nil, WithExtractor(keyLines{}), WithWalker(walker), WithObserver(rec))
	require.NoError(t, err)

	res, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.Len(t, res.Reports, 2)
	for _, r := range res.Reports {
		require.Len(t, r.History, 1, r.Key)
		assert.Equal(t, "c0ffee", r.History[0].Commit)
		assert.Equal(t, "initial", r.History[0].Message)
		assert.Equal(t, "https://git.example/c0ffee", r.History[0].CommitURL)
		assert.Equal(t, r.Key, r.History[0].SourceCode)
	}
	assert.True(t, res.HistoryEnabled)
	assert.Equal(t, 1, rec.Count(observe.HistoryFinished))

	_, err = os.Stat(filepath.Join(root, cfg.History.Cache.Path))
	assert.NoError(t, err, "snapshot cache is created under the repository root")
}

func TestCollect_UnavailableRepository(t *testing.T) {
	files := map[string]string{"a.py": "KEY-1"}
	root := writeTree(t, files)
	cfg := config.DefaultConfig()
	cfg.BaseDirectory = root
	cfg.History.Enabled = true

	walker := &singleCommit{root: root, files: files, corrupt: true}
	c, err := New(cfg, nil, WithExtractor(keyLines{}), WithWalker(walker))
	require.NoError(t, err)

	_, err = c.Collect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.RepositoryUnavailable))
	assert.Contains(t, err.Error(), "single backend")
}

func TestNew_MissingInterpreter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseDirectory = t.TempDir()
	cfg.Mode = config.ModeStaticPlusDynamic
	cfg.Dynamic.Python = "pytrace-no-such-python"

	_, err := New(cfg, nil, WithExtractor(keyLines{}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ConfigInvalid))
	assert.Contains(t, err.Error(), "pytrace-no-such-python")

	var tools []string
	for _, fix := range asTraceError(t, err).SuggestedFixes {
		tools = append(tools, fix.Tool)
	}
	assert.Contains(t, tools, "python3")
}

func TestNew_MissingInterpreterIgnoredWithResolver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseDirectory = t.TempDir()
	cfg.Mode = config.ModeStaticPlusDynamic
	cfg.Dynamic.Python = "pytrace-no-such-python"

	_, err := New(cfg, nil, WithExtractor(keyLines{}), WithResolver(stubResolver{}))
	assert.NoError(t, err)
}

func TestNew_WithoutParser(t *testing.T) {
	if extract.IsAvailable() {
		t.Skip("built with cgo")
	}
	cfg := config.DefaultConfig()
	cfg.BaseDirectory = t.TempDir()

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.InternalError))
	assert.Contains(t, err.Error(), "CGO_ENABLED=1")
}

func asTraceError(t *testing.T, err error) *errors.TraceError {
	t.Helper()
	var te *errors.TraceError
	require.True(t, stderrors.As(err, &te))
	return te
}
