// Package discovery walks a source tree, extracts markers from every
// matching file and merges in dynamically resolved markers according to
// the configured resolution mode.
package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"pytrace/internal/config"
	"pytrace/internal/errors"
	"pytrace/internal/marker"
	"pytrace/internal/observe"
	"pytrace/internal/paths"
)

// Extractor reads markers from one file's source without running it.
type Extractor interface {
	Extract(ctx context.Context, path string, source []byte) ([]marker.ExtractionRecord, error)
}

// Resolver looks up markers by importing the declaring module.
type Resolver interface {
	Resolve(ctx context.Context, file, qualifiedName string) ([]marker.Marker, error)
}

// Options configure a Collector.
type Options struct {
	BaseDirectory    string
	ExcludePatterns  []string
	SourceExtensions []string
	Mode             string
	Workers          int
}

// OptionsFromConfig builds collector options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseDirectory:    cfg.BaseDirectory,
		ExcludePatterns:  cfg.ExcludePatterns,
		SourceExtensions: cfg.SourceExtensions,
		Mode:             cfg.Mode,
		Workers:          cfg.Workers,
	}
}

// Collector finds every marker under a base directory.
type Collector struct {
	opts      Options
	extractor Extractor
	resolver  Resolver
	observer  observe.Observer
}

// New creates a Collector. resolver may be nil unless the mode is
// static-plus-dynamic.
func New(opts Options, extractor Extractor, resolver Resolver, observer observe.Observer) (*Collector, error) {
	opts.Mode = config.NormalizeMode(opts.Mode)
	if opts.Mode == config.ModeStaticPlusDynamic && resolver == nil {
		return nil, errors.NewTraceError(errors.ConfigInvalid,
			"static-plus-dynamic mode needs a resolver", nil, nil)
	}
	for _, p := range opts.ExcludePatterns {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.NewTraceError(errors.ConfigInvalid,
				fmt.Sprintf("invalid exclude pattern %q", p), nil, nil)
		}
	}
	if len(opts.SourceExtensions) == 0 {
		opts.SourceExtensions = []string{".py"}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Collector{
		opts:      opts,
		extractor: extractor,
		resolver:  resolver,
		observer:  observe.OrDiscard(observer),
	}, nil
}

// Excluded reports whether rel, a slash-separated path relative to the base
// directory, matches an exclude pattern. Patterns without a slash also
// match the base name.
func (c *Collector) Excluded(rel string) bool {
	base := rel[strings.LastIndex(rel, "/")+1:]
	for _, p := range c.opts.ExcludePatterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}

// Files lists the source files to scan in walk order.
func (c *Collector) Files(ctx context.Context) ([]string, error) {
	root := c.opts.BaseDirectory
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.NewTraceError(errors.ConfigInvalid,
			fmt.Sprintf("base directory %s is not accessible", root), err, nil)
	}
	if !info.IsDir() {
		return nil, errors.NewTraceError(errors.ConfigInvalid,
			fmt.Sprintf("base directory %s is not a directory", root), nil, nil)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if paths.SkipDir(d.Name()) || c.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !paths.HasExtension(path, c.opts.SourceExtensions) {
			return nil
		}
		if c.Excluded(rel) {
			c.observer.OnEvent(ctx, observe.Event{
				Kind:    observe.FileSkipped,
				Level:   observe.LevelDebug,
				Message: "excluded by pattern",
				Path:    path,
			})
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Records extracts the records of every file, resolving incomplete ones
// according to the mode. Records keep walk order.
func (c *Collector) Records(ctx context.Context) ([]marker.ExtractionRecord, error) {
	files, err := c.Files(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]marker.ExtractionRecord, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, file := range files {
		g.Go(func() error {
			recs, err := c.scanFile(gctx, file)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []marker.ExtractionRecord
	var incomplete []marker.ExtractionRecord
	for _, recs := range results {
		for _, rec := range recs {
			if !rec.Complete() && c.opts.Mode == config.ModeStaticOnly {
				incomplete = append(incomplete, rec)
			}
			records = append(records, rec)
		}
	}
	if len(incomplete) > 0 {
		return nil, staticModeError(incomplete)
	}
	return records, nil
}

// Collect returns one report per marker. Keys must be unique across the
// whole tree.
func (c *Collector) Collect(ctx context.Context) ([]marker.TraceabilityReport, error) {
	records, err := c.Records(ctx)
	if err != nil {
		return nil, err
	}
	reports := marker.Flatten(records)
	if err := CheckUniqueKeys(reports); err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *Collector) scanFile(ctx context.Context, path string) ([]marker.ExtractionRecord, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	records, err := c.extractor.Extract(ctx, path, source)
	if err != nil {
		if errors.HasCode(err, errors.SyntaxError) {
			c.observer.OnEvent(ctx, observe.Event{
				Kind:    observe.FileSkipped,
				Level:   observe.LevelWarn,
				Message: "skipping file that does not parse",
				Path:    path,
				Err:     err,
			})
			return nil, nil
		}
		return nil, err
	}

	c.observer.OnEvent(ctx, observe.Event{
		Kind:    observe.FileScanned,
		Level:   observe.LevelDebug,
		Message: fmt.Sprintf("%d annotated declarations", len(records)),
		Path:    path,
	})

	if c.opts.Mode != config.ModeStaticPlusDynamic {
		return records, nil
	}
	for i, rec := range records {
		if rec.Complete() {
			continue
		}
		markers, err := c.resolver.Resolve(ctx, path, rec.FunctionName)
		if err != nil {
			if errors.HasCode(err, errors.TargetNotFound) {
				continue
			}
			return nil, err
		}
		records[i].Markers = markers
	}
	return records, nil
}

func staticModeError(records []marker.ExtractionRecord) error {
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, fmt.Sprintf("%s:%d %s", rec.FilePath, rec.LineNumber, rec.FunctionName))
	}
	return errors.NewInvalidTraceability(errors.StaticMode,
		"The following nodes have dynamic data: "+strings.Join(names, ", ")).
		WithDetails(map[string]interface{}{"records": names})
}

// CheckUniqueKeys fails on the first key carried by two reports.
func CheckUniqueKeys(reports []marker.TraceabilityReport) error {
	seen := make(map[string]marker.TraceabilityReport, len(reports))
	for _, r := range reports {
		if prev, ok := seen[r.Key]; ok {
			return errors.NewInvalidTraceability(errors.KeyMustBeUnique,
				fmt.Sprintf("%q is used by %s (%s) and %s (%s)",
					r.Key, prev.FunctionName, prev.FilePath, r.FunctionName, r.FilePath)).
				WithDetails(map[string]interface{}{
					"key":   r.Key,
					"files": []string{prev.FilePath, r.FilePath},
				})
		}
		seen[r.Key] = r
	}
	return nil
}
