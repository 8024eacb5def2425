// Package history attaches past states of annotated declarations to the
// current markers by walking git history backwards and re-finding each key
// in the files every commit touched. Declarations are tracked by key, so
// renames and moves between files are followed.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"pytrace/internal/backends/git"
	"pytrace/internal/config"
	"pytrace/internal/errors"
	"pytrace/internal/marker"
	"pytrace/internal/observe"
	"pytrace/internal/paths"
)

// Extractor reads markers from one historical file state
type Extractor interface {
	Extract(ctx context.Context, path string, source []byte) ([]marker.ExtractionRecord, error)
}

// Options configure a Miner
type Options struct {
	// Branch is the revision the walk starts from; empty means HEAD
	Branch string
	// Since stops the walk at the first commit committed before it
	Since             time.Time
	Content           string
	CommitURLTemplate string
	CollapseUnchanged bool
	SourceExtensions  []string
	// Fingerprint identifies the extractor settings in the snapshot store
	Fingerprint string
	LRUSize     int
}

// OptionsFromConfig builds miner options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	since, err := config.ParseSince(cfg.History.Since)
	if err != nil {
		return Options{}, errors.NewTraceError(errors.ConfigInvalid, "invalid history.since", err, nil)
	}
	return Options{
		Branch:            cfg.History.Branch,
		Since:             since,
		Content:           cfg.History.Content,
		CommitURLTemplate: cfg.History.CommitURLTemplate,
		CollapseUnchanged: cfg.History.CollapseUnchanged,
		SourceExtensions:  cfg.SourceExtensions,
		Fingerprint:       Fingerprint(cfg.DecoratorName),
		LRUSize:           cfg.History.Cache.LRUSize,
	}, nil
}

// Fingerprint names the extractor configuration snapshots were parsed with
func Fingerprint(decoratorName string) string {
	if decoratorName == "" {
		decoratorName = marker.DefaultDecoratorName
	}
	return "pytrace/1:" + decoratorName
}

// Option customises a Miner
type Option func(*Miner)

// WithSnapshotStore persists parsed blobs between runs
func WithSnapshotStore(store SnapshotStore) Option {
	return func(m *Miner) { m.store = store }
}

// WithObserver receives walk progress events
func WithObserver(o observe.Observer) Option {
	return func(m *Miner) { m.observer = observe.OrDiscard(o) }
}

// Miner rebuilds per-key history. A Miner is not safe for concurrent use.
type Miner struct {
	walker    git.CommitWalker
	extractor Extractor
	opts      Options
	store     SnapshotStore
	observer  observe.Observer
}

// New creates a Miner reading commits from walker
func New(walker git.CommitWalker, extractor Extractor, opts Options, options ...Option) *Miner {
	if opts.Content == "" {
		opts.Content = config.ContentSource
	}
	if len(opts.SourceExtensions) == 0 {
		opts.SourceExtensions = []string{".py"}
	}
	if opts.Fingerprint == "" {
		opts.Fingerprint = Fingerprint("")
	}
	m := &Miner{walker: walker, extractor: extractor, opts: opts, observer: observe.Discard}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// walkState is the mutable bookkeeping of one walk
type walkState struct {
	current     map[string]string // key -> repo-relative path, "" when unknown
	outstanding map[string]bool
	history     map[string][]marker.HistoryEntry
	sources     map[string][]string // declaration text per entry, for collapsing
	commits     int
}

// Mine returns, for every report key, the newest-first list of past states
// of its declaration. Keys never found in history map to an empty list.
func (m *Miner) Mine(ctx context.Context, reports []marker.TraceabilityReport) (map[string][]marker.HistoryEntry, error) {
	st := &walkState{
		current:     make(map[string]string, len(reports)),
		outstanding: make(map[string]bool, len(reports)),
		history:     make(map[string][]marker.HistoryEntry, len(reports)),
		sources:     make(map[string][]string, len(reports)),
	}
	root := m.walker.Root()
	for _, r := range reports {
		if _, dup := st.history[r.Key]; dup {
			return nil, errors.NewInvalidTraceability(errors.KeyMustBeUnique, "("+r.Key+")")
		}
		st.history[r.Key] = []marker.HistoryEntry{}
		st.outstanding[r.Key] = true
		if rel, err := paths.CanonicalizePath(r.FilePath, root); err == nil && !strings.HasPrefix(rel, "../") {
			st.current[r.Key] = rel
		}
	}
	if len(reports) == 0 {
		return st.history, nil
	}

	rev, err := m.startRevision(ctx)
	if err != nil {
		return nil, err
	}

	cache, err := newSnapshots(m.walker, m.extractor, m.opts.Fingerprint, m.opts.LRUSize, m.store, m.observer)
	if err != nil {
		return nil, err
	}

	reason := "history exhausted"
	err = m.walker.Walk(ctx, rev, func(c git.Commit) error {
		if !m.opts.Since.IsZero() && c.CommitterDate.Before(m.opts.Since) {
			reason = "reached since cutoff"
			return git.ErrStopWalk
		}
		st.commits++
		m.observer.OnEvent(ctx, observe.Event{
			Kind:   observe.CommitVisited,
			Level:  observe.LevelDebug,
			Commit: c.Hash,
		})
		if err := m.visit(ctx, st, cache, c); err != nil {
			return err
		}
		if len(st.outstanding) == 0 {
			reason = "all keys resolved"
			return git.ErrStopWalk
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.opts.CollapseUnchanged {
		for key := range st.history {
			st.history[key] = collapse(st.history[key], st.sources[key])
		}
	}

	m.observer.OnEvent(ctx, observe.Event{
		Kind:  observe.HistoryFinished,
		Level: observe.LevelInfo,
		Message: fmt.Sprintf("%s after %d commits; %d keys unresolved, %d blobs parsed, %d cache hits",
			reason, st.commits, len(st.outstanding), cache.parsed, cache.hits),
	})
	return st.history, nil
}

// startRevision resolves the configured branch, falling back to HEAD
func (m *Miner) startRevision(ctx context.Context) (string, error) {
	branch := m.opts.Branch
	if branch == "" || branch == "HEAD" {
		return m.walker.ResolveRevision(ctx, "HEAD")
	}
	rev, err := m.walker.ResolveRevision(ctx, branch)
	if err == nil {
		return rev, nil
	}
	m.observer.OnEvent(ctx, observe.Event{
		Kind:    observe.BranchFallback,
		Level:   observe.LevelWarn,
		Message: fmt.Sprintf("branch %q not found, walking HEAD instead", branch),
		Err:     err,
	})
	return m.walker.ResolveRevision(ctx, "HEAD")
}

// visit processes one commit: re-find outstanding keys in the new state of
// every touched source file, forget the location of keys whose file was
// touched without a match, and retire keys the commit introduced.
func (m *Miner) visit(ctx context.Context, st *walkState, cache *snapshots, c git.Commit) error {
	changes, err := m.walker.Changes(ctx, c)
	if err != nil {
		return err
	}

	relevant := changes[:0]
	for _, ch := range changes {
		if paths.HasExtension(ch.NewPath, m.opts.SourceExtensions) || paths.HasExtension(ch.OldPath, m.opts.SourceExtensions) {
			relevant = append(relevant, ch)
		}
	}
	if len(relevant) == 0 {
		return nil
	}

	tracked := make(map[string]bool)
	for key := range st.outstanding {
		if p := st.current[key]; p != "" {
			tracked[p] = true
		}
	}
	sort.SliceStable(relevant, func(i, j int) bool {
		return tracked[relevant[i].NewPath] && !tracked[relevant[j].NewPath]
	})

	touched := make(map[string]bool, 2*len(relevant))
	for _, ch := range relevant {
		touched[ch.OldPath] = true
		touched[ch.NewPath] = true
	}
	delete(touched, "")

	matched := make(map[string]bool)
	for _, ch := range relevant {
		if ch.NewBlob == "" || !paths.HasExtension(ch.NewPath, m.opts.SourceExtensions) {
			continue
		}
		records, _, err := cache.records(ctx, ch.NewBlob, ch.NewPath)
		if err != nil {
			return err
		}
		for _, rec := range records {
			for _, mk := range rec.Markers {
				if !st.outstanding[mk.Key] || matched[mk.Key] {
					continue
				}
				matched[mk.Key] = true
				st.current[mk.Key] = ch.NewPath

				entry, ok, err := m.entry(ctx, c, ch, rec)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				st.history[mk.Key] = append(st.history[mk.Key], entry)
				st.sources[mk.Key] = append(st.sources[mk.Key], rec.SourceCode)
				m.observer.OnEvent(ctx, observe.Event{
					Kind:   observe.HistoryMatched,
					Level:  observe.LevelDebug,
					Key:    mk.Key,
					Path:   ch.NewPath,
					Commit: c.Hash,
				})
			}
		}
	}

	for key := range st.outstanding {
		if matched[key] {
			continue
		}
		if p := st.current[key]; p != "" && touched[p] {
			st.current[key] = ""
			m.observer.OnEvent(ctx, observe.Event{
				Kind:   observe.HistoryLost,
				Level:  observe.LevelDebug,
				Key:    key,
				Path:   p,
				Commit: c.Hash,
			})
		}
	}

	if len(matched) == 0 {
		return nil
	}
	before, complete, err := m.keysBefore(ctx, cache, relevant)
	if err != nil {
		return err
	}
	if !complete {
		// An unparsable parent state may still hold the keys
		return nil
	}
	for key := range matched {
		if !before[key] {
			delete(st.outstanding, key)
		}
	}
	return nil
}

// keysBefore returns the keys present in the parent state of the touched
// files. complete is false when one of those states could not be parsed.
func (m *Miner) keysBefore(ctx context.Context, cache *snapshots, changes []git.FileChange) (keys map[string]bool, complete bool, err error) {
	keys = make(map[string]bool)
	complete = true
	for _, ch := range changes {
		if ch.OldBlob == "" || !paths.HasExtension(ch.OldPath, m.opts.SourceExtensions) {
			continue
		}
		records, ok, err := cache.records(ctx, ch.OldBlob, ch.OldPath)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			complete = false
		}
		for _, rec := range records {
			for _, mk := range rec.Markers {
				keys[mk.Key] = true
			}
		}
	}
	return keys, complete, nil
}

// entry builds the history entry for rec at commit c. In diff mode it
// reports false when no hunk touches the declaration.
func (m *Miner) entry(ctx context.Context, c git.Commit, ch git.FileChange, rec marker.ExtractionRecord) (marker.HistoryEntry, bool, error) {
	e := marker.HistoryEntry{
		Commit:     c.Hash,
		AuthorName: c.AuthorName,
		AuthorDate: c.AuthorDate,
		Message:    strings.TrimSpace(c.Message),
	}
	if m.opts.CommitURLTemplate != "" {
		e.CommitURL = strings.ReplaceAll(m.opts.CommitURLTemplate, "{commit}", c.Hash)
	}

	if m.opts.Content != config.ContentDiff {
		e.SourceCode = rec.SourceCode
		return e, true, nil
	}

	newSrc, err := m.walker.Blob(ctx, ch.NewBlob)
	if err != nil {
		return e, false, err
	}
	oldSrc, err := m.walker.Blob(ctx, ch.OldBlob)
	if err != nil {
		return e, false, err
	}
	fragment, err := diffFragment(ch.OldPath, ch.NewPath, oldSrc, newSrc, rec.LineNumber, rec.EndLineNumber)
	if err != nil {
		return e, false, err
	}
	if fragment == "" {
		return e, false, nil
	}
	e.Diff = fragment
	return e, true, nil
}

// collapse drops each entry whose declaration text equals that of the next
// older entry, keeping the older commit.
func collapse(entries []marker.HistoryEntry, sources []string) []marker.HistoryEntry {
	if len(entries) < 2 || len(sources) != len(entries) {
		return entries
	}
	out := make([]marker.HistoryEntry, 0, len(entries))
	for i := range entries {
		if i+1 < len(entries) && sources[i] == sources[i+1] {
			continue
		}
		out = append(out, entries[i])
	}
	return out
}
