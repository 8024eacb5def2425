package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pytrace/internal/config"
)

type configShowOptions struct {
	dir    string
	format string
	diff   bool
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect pytrace configuration",
		Long:  "View the effective pytrace configuration and the environment variables that override it",
	}

	show := &configShowOptions{}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Display the configuration pytrace would run with.

Examples:
  pytrace config show                 # Pretty-print
  pytrace config show --format json   # Raw JSON output
  pytrace config show --format toml   # As a [tool.pytraceability] table
  pytrace config show --diff          # Only non-default values`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd.OutOrStdout(), show)
		},
	}
	showCmd.Flags().StringVar(&show.dir, "dir", ".", "Directory to resolve the configuration from")
	showCmd.Flags().StringVar(&show.format, "format", "human", "Output format (human, json, toml)")
	showCmd.Flags().BoolVar(&show.diff, "diff", false, "Only show non-default values")

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "List supported environment variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigEnv(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(showCmd, envCmd)
	return cmd
}

// ConfigShowResponse is the JSON shape of config show
type ConfigShowResponse struct {
	ConfigPath   string                 `json:"configPath,omitempty"`
	Source       string                 `json:"source"`
	UsedDefaults bool                   `json:"usedDefaults"`
	EnvOverrides []config.EnvOverride   `json:"envOverrides,omitempty"`
	Config       map[string]interface{} `json:"config"`
}

func runConfigShow(w io.Writer, opts *configShowOptions) error {
	result, err := config.LoadConfigWithDetails(opts.dir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch opts.format {
	case "json":
		return outputConfigJSON(w, result, opts.diff)
	case "toml":
		snippet, err := result.Config.ToPyproject()
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, snippet)
		return err
	case "human":
		return outputConfigHuman(w, result, opts.diff)
	}
	return fmt.Errorf("unknown format %q (want human, json or toml)", opts.format)
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func outputConfigJSON(w io.Writer, result *config.LoadResult, diffOnly bool) error {
	configMap, err := toMap(result.Config)
	if err != nil {
		return err
	}
	if diffOnly {
		defaultMap, err := toMap(config.DefaultConfig())
		if err != nil {
			return err
		}
		configMap = computeDiff(configMap, defaultMap)
	}

	out, err := json.MarshalIndent(ConfigShowResponse{
		ConfigPath:   result.ConfigPath,
		Source:       result.Source,
		UsedDefaults: result.UsedDefaults,
		EnvOverrides: result.EnvOverrides,
		Config:       configMap,
	}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// configField is one printable leaf of the configuration
type configField struct {
	name  string
	value interface{}
	def   interface{}
}

func configFields(cfg, d *config.Config) []configField {
	return []configField{
		{"version", cfg.Version, d.Version},
		{"baseDirectory", cfg.BaseDirectory, d.BaseDirectory},
		{"projectRoot", cfg.ProjectRoot, d.ProjectRoot},
		{"repoRoot", cfg.RepoRoot, d.RepoRoot},
		{"decoratorName", cfg.DecoratorName, d.DecoratorName},
		{"excludePatterns", cfg.ExcludePatterns, d.ExcludePatterns},
		{"sourceExtensions", cfg.SourceExtensions, d.SourceExtensions},
		{"mode", cfg.Mode, d.Mode},
		{"workers", cfg.Workers, d.Workers},
		{"output.format", cfg.Output.Format, d.Output.Format},
		{"history.enabled", cfg.History.Enabled, d.History.Enabled},
		{"history.since", cfg.History.Since, d.History.Since},
		{"history.branch", cfg.History.Branch, d.History.Branch},
		{"history.commitUrlTemplate", cfg.History.CommitURLTemplate, d.History.CommitURLTemplate},
		{"history.content", cfg.History.Content, d.History.Content},
		{"history.collapseUnchanged", cfg.History.CollapseUnchanged, d.History.CollapseUnchanged},
		{"history.cache.enabled", cfg.History.Cache.Enabled, d.History.Cache.Enabled},
		{"history.cache.path", cfg.History.Cache.Path, d.History.Cache.Path},
		{"history.cache.lruSize", cfg.History.Cache.LRUSize, d.History.Cache.LRUSize},
		{"dynamic.python", cfg.Dynamic.Python, d.Dynamic.Python},
		{"dynamic.attribute", cfg.Dynamic.Attribute, d.Dynamic.Attribute},
		{"logging.level", cfg.Logging.Level, d.Logging.Level},
		{"logging.format", cfg.Logging.Format, d.Logging.Format},
		{"logging.file", cfg.Logging.File, d.Logging.File},
	}
}

func outputConfigHuman(w io.Writer, result *config.LoadResult, diffOnly bool) error {
	var b strings.Builder
	b.WriteString("pytrace Configuration\n")
	b.WriteString(strings.Repeat("─", 50) + "\n")

	if result.UsedDefaults {
		b.WriteString("Source: defaults (no config file found)\n")
	} else if result.ConfigPath != "" {
		fmt.Fprintf(&b, "Source: %s (%s)\n", result.ConfigPath, result.Source)
	}

	if len(result.EnvOverrides) > 0 {
		b.WriteString("\nEnvironment Overrides:\n")
		for _, ov := range result.EnvOverrides {
			fmt.Fprintf(&b, "  %s → %s = %v\n", ov.EnvVar, ov.Path, ov.Value)
		}
	}
	b.WriteString("\n")

	modified := 0
	for _, f := range configFields(result.Config, config.DefaultConfig()) {
		same := isEqual(f.value, f.def)
		if diffOnly && same {
			continue
		}
		modified++
		if same {
			fmt.Fprintf(&b, "%s: %v\n", f.name, f.value)
		} else {
			fmt.Fprintf(&b, "%s: %v (default: %v)\n", f.name, f.value, f.def)
		}
	}
	if diffOnly && modified == 0 {
		b.WriteString("  (no modifications - using all defaults)\n")
	}

	b.WriteString("\nUse 'pytrace config show --format json' for full configuration\n")
	b.WriteString("Use 'pytrace config env' to see supported environment variables\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func runConfigEnv(w io.Writer) error {
	var b strings.Builder
	b.WriteString("Supported pytrace Environment Variables\n")
	b.WriteString(strings.Repeat("─", 50) + "\n\n")
	fmt.Fprintf(&b, "  %-36s %s\n", "PYTRACE_CONFIG_PATH", "path to config.json or pyproject.toml")
	for _, name := range config.GetSupportedEnvVars() {
		path, _ := config.EnvVarPath(name)
		fmt.Fprintf(&b, "  %-36s %s\n", name, path)
	}
	b.WriteString("\nExample usage:\n")
	b.WriteString("  PYTRACE_LOG_LEVEL=debug pytrace src\n")
	b.WriteString("  PYTRACE_HISTORY=true PYTRACE_GIT_BRANCH=develop pytrace src --output-format json\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func isEqual(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func computeDiff(current, defaults map[string]interface{}) map[string]interface{} {
	diff := make(map[string]interface{})
	computeDiffRecursive(current, defaults, diff)
	return diff
}

func computeDiffRecursive(current, defaults, diff map[string]interface{}) {
	for key, currentVal := range current {
		defaultVal, exists := defaults[key]
		if !exists {
			diff[key] = currentVal
			continue
		}

		currentMap, currentIsMap := currentVal.(map[string]interface{})
		defaultMap, defaultIsMap := defaultVal.(map[string]interface{})
		if currentIsMap && defaultIsMap {
			nested := make(map[string]interface{})
			computeDiffRecursive(currentMap, defaultMap, nested)
			if len(nested) > 0 {
				diff[key] = nested
			}
		} else if !isEqual(currentVal, defaultVal) {
			diff[key] = currentVal
		}
	}
}
