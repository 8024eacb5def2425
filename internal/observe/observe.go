// Package observe carries progress and diagnostic events from the core
// packages to whoever drives them. Core packages never log directly; they
// emit events to an injected Observer.
package observe

import (
	"context"
	"log/slog"
	"sync"
)

// Kind names an event type.
type Kind string

const (
	// FileScanned is emitted after a source file has been extracted.
	FileScanned Kind = "file.scanned"
	// FileSkipped is emitted when a file cannot be parsed and is ignored.
	FileSkipped Kind = "file.skipped"
	// DynamicLoad is emitted once per run before any module is imported.
	DynamicLoad Kind = "dynamic.load"
	// TargetNotFound is emitted when dynamic resolution misses a declaration.
	TargetNotFound Kind = "dynamic.target_not_found"
	// CommitVisited is emitted for every commit the history walk inspects.
	CommitVisited Kind = "history.commit"
	// HistoryMatched is emitted when a key is found in a commit.
	HistoryMatched Kind = "history.matched"
	// HistoryLost is emitted when a key's file was touched but the key was
	// not re-found in it.
	HistoryLost Kind = "history.lost"
	// BranchFallback is emitted when the configured branch does not resolve
	// and the walk starts from HEAD instead.
	BranchFallback Kind = "history.branch_fallback"
	// HistoryFinished is emitted when the walk ends.
	HistoryFinished Kind = "history.finished"
)

// Level tells an observer how loud an event is.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

// Event is one progress or diagnostic notification.
type Event struct {
	Kind    Kind
	Level   Level
	Message string
	Path    string
	Key     string
	Commit  string
	Err     error
}

// Observer receives events. Implementations must be safe for concurrent use;
// the directory collector emits from several goroutines.
type Observer interface {
	OnEvent(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(ctx context.Context, e Event) { f(ctx, e) }

// Discard drops every event.
var Discard Observer = ObserverFunc(func(context.Context, Event) {})

// OrDiscard returns o, or Discard when o is nil.
func OrDiscard(o Observer) Observer {
	if o == nil {
		return Discard
	}
	return o
}

// Multi fans an event out to several observers in order.
func Multi(observers ...Observer) Observer {
	return ObserverFunc(func(ctx context.Context, e Event) {
		for _, o := range observers {
			if o != nil {
				o.OnEvent(ctx, e)
			}
		}
	})
}

// NewSlogObserver logs every event through logger.
func NewSlogObserver(logger *slog.Logger) Observer {
	return ObserverFunc(func(ctx context.Context, e Event) {
		level := slog.LevelDebug
		switch e.Level {
		case LevelInfo:
			level = slog.LevelInfo
		case LevelWarn:
			level = slog.LevelWarn
		}
		if !logger.Enabled(ctx, level) {
			return
		}
		attrs := []slog.Attr{slog.String("event", string(e.Kind))}
		if e.Path != "" {
			attrs = append(attrs, slog.String("path", e.Path))
		}
		if e.Key != "" {
			attrs = append(attrs, slog.String("key", e.Key))
		}
		if e.Commit != "" {
			attrs = append(attrs, slog.String("commit", e.Commit))
		}
		if e.Err != nil {
			attrs = append(attrs, slog.Any("error", e.Err))
		}
		logger.LogAttrs(ctx, level, e.Message, attrs...)
	})
}

// Recorder keeps every event it sees. Used by tests and by the CLI summary.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// OnEvent records e.
func (r *Recorder) OnEvent(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}
