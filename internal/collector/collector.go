// Package collector is the single entry point callers use: it scans a tree
// for markers and, when history is enabled, attaches the history of every
// marked declaration.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"pytrace/internal/backends/git"
	"pytrace/internal/config"
	"pytrace/internal/discovery"
	"pytrace/internal/dynamic"
	"pytrace/internal/errors"
	"pytrace/internal/extract"
	"pytrace/internal/history"
	"pytrace/internal/marker"
	"pytrace/internal/observe"
	"pytrace/internal/storage"
)

// Result is the outcome of one collection run
type Result struct {
	RunID          string                      `json:"runId" yaml:"runId"`
	GeneratedAt    time.Time                   `json:"generatedAt" yaml:"generatedAt"`
	BaseDirectory  string                      `json:"baseDirectory" yaml:"baseDirectory"`
	Mode           string                      `json:"mode" yaml:"mode"`
	HistoryEnabled bool                        `json:"historyEnabled" yaml:"historyEnabled"`
	Reports        []marker.TraceabilityReport `json:"reports" yaml:"reports"`
}

// Extractor is what both the directory scan and the history walk parse with
type Extractor interface {
	discovery.Extractor
	history.Extractor
}

// Option customises a Collector
type Option func(*Collector)

// WithObserver receives progress events from every stage
func WithObserver(o observe.Observer) Option {
	return func(c *Collector) { c.observer = observe.OrDiscard(o) }
}

// WithExtractor replaces the tree-sitter extractor
func WithExtractor(e Extractor) Option {
	return func(c *Collector) { c.extractor = e }
}

// WithResolver replaces the Python-import resolver
func WithResolver(r discovery.Resolver) Option {
	return func(c *Collector) { c.resolver = r }
}

// WithWalker replaces the git command-line walker
func WithWalker(w git.CommitWalker) Option {
	return func(c *Collector) { c.walker = w }
}

// WithClock overrides the time source for GeneratedAt
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// Collector wires the scan, dynamic resolution and history stages together
type Collector struct {
	cfg       *config.Config
	logger    *slog.Logger
	observer  observe.Observer
	extractor Extractor
	resolver  discovery.Resolver
	walker    git.CommitWalker
	now       func() time.Time

	db    *storage.DB
	store *storage.SnapshotStore
}

// New validates cfg and prepares a Collector. Close releases the snapshot
// cache when history caching is enabled.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewTraceError(errors.ConfigInvalid, err.Error(), err, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		cfg:      cfg,
		logger:   logger,
		observer: observe.Discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extractor == nil {
		if !extract.IsAvailable() {
			return nil, errors.NewTraceError(errors.InternalError,
				"this build has no Python parser; rebuild pytrace with CGO_ENABLED=1", nil, nil)
		}
		c.extractor = extract.New(cfg.DecoratorName)
	}
	if c.resolver == nil && config.NormalizeMode(cfg.Mode) == config.ModeStaticPlusDynamic {
		root := c.projectRoot()
		loader := dynamic.NewPythonLoader(cfg.Dynamic.Python, cfg.Dynamic.Attribute, root)
		if !loader.Available() {
			return nil, errors.NewTraceError(errors.ConfigInvalid,
				fmt.Sprintf("python interpreter %q not found; %s mode imports modules", loader.Python, config.ModeStaticPlusDynamic),
				nil, errors.GetSuggestedFixes(errors.DynamicLoadFailed))
		}
		c.resolver = dynamic.NewResolver(loader, root, dynamic.WithObserver(c.observer))
	}
	return c, nil
}

// projectRoot is where module names are computed from
func (c *Collector) projectRoot() string {
	if c.cfg.ProjectRoot != "" {
		return c.cfg.ProjectRoot
	}
	return c.cfg.BaseDirectory
}

// repoRoot is the directory the repository is discovered from
func (c *Collector) repoRoot() string {
	if c.cfg.RepoRoot != "" {
		return c.cfg.RepoRoot
	}
	return c.projectRoot()
}

// Collect scans the base directory and, when enabled, mines history. Reports
// are sorted by key.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	scanner, err := discovery.New(discovery.OptionsFromConfig(c.cfg), c.extractor, c.resolver, c.observer)
	if err != nil {
		return nil, err
	}
	reports, err := scanner.Collect(ctx)
	if err != nil {
		return nil, err
	}

	if c.cfg.History.Enabled {
		hist, err := c.mine(ctx, reports)
		if err != nil {
			return nil, err
		}
		for i := range reports {
			reports[i].History = hist[reports[i].Key]
		}
	}

	marker.SortByKey(reports)
	if reports == nil {
		reports = []marker.TraceabilityReport{}
	}

	base, err := filepath.Abs(c.cfg.BaseDirectory)
	if err != nil {
		base = c.cfg.BaseDirectory
	}
	return &Result{
		RunID:          uuid.NewString(),
		GeneratedAt:    c.now().UTC(),
		BaseDirectory:  base,
		Mode:           config.NormalizeMode(c.cfg.Mode),
		HistoryEnabled: c.cfg.History.Enabled,
		Reports:        reports,
	}, nil
}

func (c *Collector) mine(ctx context.Context, reports []marker.TraceabilityReport) (map[string][]marker.HistoryEntry, error) {
	walker := c.walker
	if walker == nil {
		adapter, err := git.NewGitAdapter(ctx, c.repoRoot())
		if err != nil {
			return nil, err
		}
		walker = adapter
	}
	if !walker.IsAvailable(ctx) {
		return nil, errors.NewTraceError(errors.RepositoryUnavailable,
			fmt.Sprintf("%s backend cannot read %s", walker.ID(), walker.Root()), nil, nil)
	}

	opts, err := history.OptionsFromConfig(c.cfg)
	if err != nil {
		return nil, err
	}
	minerOpts := []history.Option{history.WithObserver(c.observer)}
	if c.cfg.History.Cache.Enabled {
		store, err := c.snapshotStore(walker.Root())
		if err != nil {
			return nil, err
		}
		minerOpts = append(minerOpts, history.WithSnapshotStore(store))
	}

	c.logger.Debug("Mining history",
		"repo", walker.Root(),
		"branch", opts.Branch,
		"keys", len(reports),
	)
	return history.New(walker, c.extractor, opts, minerOpts...).Mine(ctx, reports)
}

// snapshotStore opens the persistent cache, relative paths being resolved
// against the repository root
func (c *Collector) snapshotStore(repoRoot string) (*storage.SnapshotStore, error) {
	if c.store != nil {
		return c.store, nil
	}
	path := c.cfg.History.Cache.Path
	if path == "" {
		path = storage.DefaultPath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}
	db, err := storage.Open(path, c.logger)
	if err != nil {
		return nil, errors.NewTraceError(errors.InternalError, "cannot open snapshot cache", err, nil).
			WithDetails(map[string]interface{}{"path": path})
	}
	store, err := storage.NewSnapshotStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.db, c.store = db, store
	return store, nil
}

// Close releases the snapshot cache if one was opened
func (c *Collector) Close() error {
	if c.store != nil {
		c.store.Close()
		c.store = nil
	}
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
