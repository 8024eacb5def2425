package slogutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("File skipped", "path", "pkg/mod.py", "count", 42)

	output := buf.String()
	assert.Contains(t, output, "[info]")
	assert.Contains(t, output, "File skipped")
	assert.Contains(t, output, " | ")
	assert.Contains(t, output, "path=pkg/mod.py")
	assert.Contains(t, output, "count=42")
}

func TestTextHandler_QuotesMultilineValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Warn("Syntax error", "err", errors.New("bad\nthing"), "msg", "two words")

	output := buf.String()
	assert.Contains(t, output, `err="bad\nthing"`)
	assert.Contains(t, output, `msg="two words"`)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestTextHandler_Levels(t *testing.T) {
	tests := []struct {
		logFunc  func(*slog.Logger)
		expected string
	}{
		{func(l *slog.Logger) { l.Debug("debug") }, "[debug]"},
		{func(l *slog.Logger) { l.Info("info") }, "[info]"},
		{func(l *slog.Logger) { l.Warn("warn") }, "[warn]"},
		{func(l *slog.Logger) { l.Error("error") }, "[error]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, slog.LevelDebug)
			tt.logFunc(logger)
			assert.Contains(t, buf.String(), tt.expected)
		})
	}
}

func TestTextHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestTextHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).WithGroup("history").With("commit", "abc")

	logger.Info("matched", "key", "K1")

	assert.Contains(t, buf.String(), "history.commit=abc")
	assert.Contains(t, buf.String(), "history.key=K1")
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo, FormatJSON))
	logger.Info("hello", "key", "K1")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "K1", rec["key"])
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, LevelFromString(tt.input))
		})
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		expected  slog.Level
	}{
		{0, false, slog.LevelWarn},
		{1, false, slog.LevelInfo},
		{2, false, slog.LevelDebug},
		{3, false, slog.LevelDebug},
		{0, true, LevelSilent},
		{5, true, LevelSilent},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevelFromVerbosity(tt.verbosity, tt.quiet),
			"verbosity=%d quiet=%v", tt.verbosity, tt.quiet)
	}
}

func TestNewDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	logger.Error("error")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestTeeHandler(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(NewTeeHandler(h1, h2))
	logger.Info("info message")
	logger.Warn("warn message")

	assert.Contains(t, buf1.String(), "info message")
	assert.Contains(t, buf1.String(), "warn message")
	assert.NotContains(t, buf2.String(), "info message")
	assert.Contains(t, buf2.String(), "warn message")
}

func TestSetup_WithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	var stderr bytes.Buffer

	logger, closer, err := Setup(&stderr, Options{
		Level:     slog.LevelWarn,
		Format:    FormatText,
		File:      path,
		FileLevel: slog.LevelDebug,
	})
	require.NoError(t, err)

	logger.Debug("walking commits")
	logger.Warn("file skipped")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "walking commits")
	assert.Contains(t, string(data), "file skipped")
	assert.NotContains(t, stderr.String(), "walking commits")
	assert.Contains(t, stderr.String(), "file skipped")
}

func TestSetup_NoFile(t *testing.T) {
	var stderr bytes.Buffer
	logger, closer, err := Setup(&stderr, Options{Level: slog.LevelInfo})
	require.NoError(t, err)
	logger.Info("hello")
	assert.NoError(t, closer.Close())
	assert.Contains(t, stderr.String(), "hello")
}
