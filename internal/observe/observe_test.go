package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	obs := NewSlogObserver(logger)

	obs.OnEvent(context.Background(), Event{Kind: FileScanned, Level: LevelDebug, Message: "hidden", Path: "a.py"})
	obs.OnEvent(context.Background(), Event{
		Kind:    FileSkipped,
		Level:   LevelWarn,
		Message: "Syntax error, skipping file",
		Path:    "b.py",
		Err:     errors.New("unexpected token"),
	})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "path=b.py")
	assert.Contains(t, out, "event=file.skipped")
	assert.Contains(t, out, "unexpected token")
}

func TestMultiAndRecorder(t *testing.T) {
	r1, r2 := &Recorder{}, &Recorder{}
	obs := Multi(r1, nil, r2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs.OnEvent(context.Background(), Event{Kind: HistoryMatched, Key: "K"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, r1.Count(HistoryMatched))
	assert.Equal(t, 10, r2.Count(HistoryMatched))
	require.Len(t, r1.Events(), 10)
	assert.Equal(t, "K", r1.Events()[0].Key)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	r := &Recorder{}
	OrDiscard(r).OnEvent(context.Background(), Event{Kind: CommitVisited})
	assert.Equal(t, 1, r.Count(CommitVisited))
}
