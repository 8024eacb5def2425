package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pytrace/internal/collector"
	"pytrace/internal/config"
	"pytrace/internal/errors"
	"pytrace/internal/marker"
)

// keyLines reports one decorated function per non-empty line
type keyLines struct{}

func (keyLines) Extract(_ context.Context, path string, source []byte) ([]marker.ExtractionRecord, error) {
	var records []marker.ExtractionRecord
	for i, line := range strings.Split(string(source), "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		records = append(records, marker.ExtractionRecord{
			Location: marker.Location{FilePath: path, FunctionName: "fn", LineNumber: i + 1, EndLineNumber: i + 1},
			Markers:  []marker.Marker{{Key: line, Metadata: marker.Metadata{}}},
		})
	}
	return records, nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, envVar := range config.GetSupportedEnvVars() {
		t.Setenv(envVar, "")
	}
	t.Setenv("PYTRACE_CONFIG_PATH", "")
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	clearEnv(t)
	opts := &rootOptions{extra: []collector.Option{collector.WithExtractor(keyLines{})}}
	cmd := newRootCmd(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRoot_KeyOnly(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.py": "KEY-2\nKEY-1", "pkg/b.py": "KEY-3"})

	out, _, err := execute(t, root)
	require.NoError(t, err)
	assert.Equal(t, "KEY-1\nKEY-2\nKEY-3\n", out)
}

func TestRoot_ExcludePattern(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.py": "KEY-1", "gen/b.py": "KEY-2"})

	out, _, err := execute(t, root, "--exclude-pattern", "gen/**")
	require.NoError(t, err)
	assert.Equal(t, "KEY-1\n", out)
}

func TestRoot_FlagOverridesConfigFile(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.py":                 "KEY-1",
		".pytrace/config.json": `{"version": 1, "output": {"format": "json"}}`,
	})

	out, _, err := execute(t, root)
	require.NoError(t, err)
	var doc struct {
		Reports []map[string]interface{} `json:"reports"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	require.Len(t, doc.Reports, 1)
	assert.Equal(t, "KEY-1", doc.Reports[0]["key"])

	out, _, err = execute(t, root, "--output-format", "key-only")
	require.NoError(t, err)
	assert.Equal(t, "KEY-1\n", out)
}

func TestRoot_InvalidOutputFormat(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.py": "KEY-1"})

	_, _, err := execute(t, root, "--output-format", "xml")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ConfigInvalid))
}

func TestRoot_VerboseLogsToStderr(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.py": "KEY-1"})

	out, errOut, err := execute(t, root, "-v")
	require.NoError(t, err)
	assert.Equal(t, "KEY-1\n", out)
	assert.Contains(t, errOut, "Extracting traceability")

	_, errOut, err = execute(t, root, "-v", "--quiet")
	require.NoError(t, err)
	assert.Empty(t, errOut)
}

func TestRoot_TooManyArgs(t *testing.T) {
	_, _, err := execute(t, "a", "b")
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	opts := &rootOptions{}
	cmd := newRootCmd(opts)
	require.NoError(t, cmd.ParseFlags([]string{
		"--mode", "module-import",
		"--exclude-pattern", "a/**", "--exclude-pattern", "b.py",
		"--history", "--since", "2024-01-01",
		"--git-branch", "develop",
		"--commit-url-template", "https://git.example/{commit}",
		"--history-content", "diff",
		"--history-cache",
		"--workers", "2",
	}))

	cfg := config.DefaultConfig()
	applyFlags(cmd, opts, cfg)

	assert.Equal(t, "module-import", cfg.Mode)
	assert.Equal(t, []string{"a/**", "b.py"}, cfg.ExcludePatterns)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "2024-01-01", cfg.History.Since)
	assert.Equal(t, "develop", cfg.History.Branch)
	assert.Equal(t, "https://git.example/{commit}", cfg.History.CommitURLTemplate)
	assert.Equal(t, config.ContentDiff, cfg.History.Content)
	assert.True(t, cfg.History.Cache.Enabled)
	assert.Equal(t, 2, cfg.Workers)
	// untouched flags keep the loaded value
	assert.Equal(t, "traceability", cfg.DecoratorName)
	assert.Equal(t, config.FormatKeyOnly, cfg.Output.Format)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pytrace version")
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.NewInvalidTraceability(errors.StaticMode, "a.py:3"))

	out := buf.String()
	assert.Contains(t, out, "Error: [STATIC_MODE]")
	assert.Contains(t, out, "pytrace --mode static-plus-dynamic")

	buf.Reset()
	printError(&buf, assert.AnError)
	assert.Equal(t, "Error: "+assert.AnError.Error()+"\n", buf.String())
}
