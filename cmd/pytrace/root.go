package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"pytrace/internal/collector"
	"pytrace/internal/config"
	"pytrace/internal/errors"
	"pytrace/internal/observe"
	"pytrace/internal/output"
	"pytrace/internal/slogutil"
	"pytrace/internal/version"
)

// rootOptions holds the flag values of one invocation
type rootOptions struct {
	configPath        string
	projectRoot       string
	repoRoot          string
	decoratorName     string
	mode              string
	excludePatterns   []string
	outputFormat      string
	history           bool
	since             string
	gitBranch         string
	commitURLTemplate string
	historyContent    string
	historyCache      bool
	workers           int
	verbosity         int
	quiet             bool

	// collector options injected by tests
	extra []collector.Option
}

var rootCmd = newRootCmd(&rootOptions{})

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pytrace [base-directory]",
		Short: "Collect traceability markers from Python sources",
		Long: `pytrace scans a Python source tree for functions and classes decorated
with a traceability marker, reports each marker's key and metadata and,
optionally, the git history of every marked declaration.

Examples:
  pytrace src                                # one key per line
  pytrace src --output-format json           # full report
  pytrace src --history --since 2024-01-01   # with history
  pytrace src --mode static-plus-dynamic     # import modules for computed metadata`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, opts, args)
		},
	}
	cmd.SetVersionTemplate("pytrace version {{.Version}}\n")

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "Path to a config.json or pyproject.toml")
	f.StringVar(&opts.projectRoot, "project-root", "", "Root that module names are computed from (default: base directory)")
	f.StringVar(&opts.repoRoot, "repo-root", "", "Directory the git repository is discovered from (default: project root)")
	f.StringVar(&opts.decoratorName, "decorator-name", "", "Name of the marker decorator")
	f.StringVar(&opts.mode, "mode", "", "Resolution mode: static-only, static-plus-dynamic or allow-raw")
	f.StringArrayVar(&opts.excludePatterns, "exclude-pattern", nil, "Glob of files to skip (repeatable)")
	f.StringVar(&opts.outputFormat, "output-format", "", "Output format: "+strings.Join(output.Formats(), ", "))
	f.BoolVar(&opts.history, "history", false, "Attach the git history of every marked declaration")
	f.StringVar(&opts.since, "since", "", "Stop walking history at commits older than this date")
	f.StringVar(&opts.gitBranch, "git-branch", "", "Branch whose history is walked")
	f.StringVar(&opts.commitURLTemplate, "commit-url-template", "", "URL of a commit, with {commit} in place of the hash")
	f.StringVar(&opts.historyContent, "history-content", "", "What each history entry carries: source or diff")
	f.BoolVar(&opts.historyCache, "history-cache", false, "Keep parsed snapshots in an on-disk cache between runs")
	f.IntVar(&opts.workers, "workers", 0, "Files parsed in parallel")
	f.CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity (-v info, -vv debug)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress all log output")

	cmd.AddCommand(newConfigCmd(), newVersionCmd())
	return cmd
}

func runCollect(cmd *cobra.Command, opts *rootOptions, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	loaded, err := loadConfig(dir, opts)
	if err != nil {
		return errors.NewTraceError(errors.ConfigInvalid, "cannot load configuration", err, nil)
	}
	cfg := loaded.Config
	if len(args) == 1 || loaded.UsedDefaults {
		cfg.BaseDirectory = dir
	}
	applyFlags(cmd, opts, cfg)

	logger, closer, err := setupLogging(cmd.ErrOrStderr(), opts, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	logger.Info("Extracting traceability",
		"base", cfg.BaseDirectory,
		"mode", config.NormalizeMode(cfg.Mode),
		"config", loaded.Source,
	)

	collectorOpts := append([]collector.Option{
		collector.WithObserver(observe.NewSlogObserver(logger)),
	}, opts.extra...)
	c, err := collector.New(cfg, logger, collectorOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	res, err := c.Collect(cmd.Context())
	if err != nil {
		return err
	}
	logger.Info("Collection finished", "reports", len(res.Reports), "run", res.RunID)
	return output.Render(cmd.OutOrStdout(), cfg.Output.Format, res)
}

// loadConfig resolves the config file: --config, then the usual search
// from the base directory and the project root.
func loadConfig(dir string, opts *rootOptions) (*config.LoadResult, error) {
	if opts.configPath != "" {
		return config.LoadConfigFromPath(opts.configPath)
	}
	var extra []string
	if opts.projectRoot != "" {
		extra = append(extra, opts.projectRoot)
	}
	return config.LoadConfigWithDetails(dir, extra...)
}

// applyFlags overrides cfg with every flag set on the command line
func applyFlags(cmd *cobra.Command, opts *rootOptions, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("project-root") {
		cfg.ProjectRoot = opts.projectRoot
	}
	if changed("repo-root") {
		cfg.RepoRoot = opts.repoRoot
	}
	if changed("decorator-name") {
		cfg.DecoratorName = opts.decoratorName
	}
	if changed("mode") {
		cfg.Mode = opts.mode
	}
	if changed("exclude-pattern") {
		cfg.ExcludePatterns = opts.excludePatterns
	}
	if changed("output-format") {
		cfg.Output.Format = opts.outputFormat
	}
	if changed("history") {
		cfg.History.Enabled = opts.history
	}
	if changed("since") {
		cfg.History.Since = opts.since
	}
	if changed("git-branch") {
		cfg.History.Branch = opts.gitBranch
	}
	if changed("commit-url-template") {
		cfg.History.CommitURLTemplate = opts.commitURLTemplate
	}
	if changed("history-content") {
		cfg.History.Content = opts.historyContent
	}
	if changed("history-cache") {
		cfg.History.Cache.Enabled = opts.historyCache
	}
	if changed("workers") {
		cfg.Workers = opts.workers
	}
}

// setupLogging picks the level from -v/--quiet when given, otherwise from
// logging.level. Logs always go to w, never to the report stream.
func setupLogging(w io.Writer, opts *rootOptions, cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level := slogutil.LevelFromString(cfg.Logging.Level)
	if opts.verbosity > 0 || opts.quiet {
		level = slogutil.LevelFromVerbosity(opts.verbosity, opts.quiet)
	}
	logger, closer, err := slogutil.Setup(w, slogutil.Options{
		Level:     level,
		Format:    slogutil.Format(cfg.Logging.Format),
		File:      cfg.Logging.File,
		FileLevel: slog.LevelDebug,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return logger, closer, nil
}

func asTraceError(err error) *errors.TraceError {
	var te *errors.TraceError
	if stderrors.As(err, &te) {
		return te
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return err
		},
	}
}
