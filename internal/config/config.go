package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// Resolution modes.
const (
	ModeStaticOnly        = "static-only"
	ModeStaticPlusDynamic = "static-plus-dynamic"
	ModeAllowRaw          = "allow-raw"
)

// Output formats.
const (
	FormatKeyOnly = "key-only"
	FormatJSON    = "json"
	FormatJSONL   = "jsonl"
	FormatYAML    = "yaml"
	FormatHTML    = "html"
)

// History content policies.
const (
	ContentSource = "source"
	ContentDiff   = "diff"
)

// Config represents the complete pytrace configuration
type Config struct {
	Version          int      `json:"version" mapstructure:"version"`
	BaseDirectory    string   `json:"baseDirectory" mapstructure:"baseDirectory"`
	ProjectRoot      string   `json:"projectRoot,omitempty" mapstructure:"projectRoot"`
	RepoRoot         string   `json:"repoRoot,omitempty" mapstructure:"repoRoot"`
	DecoratorName    string   `json:"decoratorName" mapstructure:"decoratorName"`
	ExcludePatterns  []string `json:"excludePatterns" mapstructure:"excludePatterns"`
	SourceExtensions []string `json:"sourceExtensions" mapstructure:"sourceExtensions"`
	Mode             string   `json:"mode" mapstructure:"mode"`
	Workers          int      `json:"workers" mapstructure:"workers"`

	Output  OutputConfig  `json:"output" mapstructure:"output"`
	History HistoryConfig `json:"history" mapstructure:"history"`
	Dynamic DynamicConfig `json:"dynamic" mapstructure:"dynamic"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// OutputConfig controls report rendering
type OutputConfig struct {
	Format string `json:"format" mapstructure:"format"`
}

// HistoryConfig controls history mining
type HistoryConfig struct {
	Enabled           bool        `json:"enabled" mapstructure:"enabled"`
	Since             string      `json:"since,omitempty" mapstructure:"since"`
	Branch            string      `json:"branch" mapstructure:"branch"`
	CommitURLTemplate string      `json:"commitUrlTemplate,omitempty" mapstructure:"commitUrlTemplate"`
	Content           string      `json:"content" mapstructure:"content"`
	CollapseUnchanged bool        `json:"collapseUnchanged" mapstructure:"collapseUnchanged"`
	Cache             CacheConfig `json:"cache" mapstructure:"cache"`
}

// CacheConfig controls the snapshot cache used while mining history
type CacheConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
	LRUSize int    `json:"lruSize" mapstructure:"lruSize"`
}

// DynamicConfig controls the import-based resolver
type DynamicConfig struct {
	Python    string `json:"python" mapstructure:"python"`
	Attribute string `json:"attribute" mapstructure:"attribute"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file,omitempty" mapstructure:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:          CurrentVersion,
		BaseDirectory:    ".",
		DecoratorName:    "traceability",
		ExcludePatterns:  []string{},
		SourceExtensions: []string{".py"},
		Mode:             ModeStaticOnly,
		Workers:          4,
		Output: OutputConfig{
			Format: FormatKeyOnly,
		},
		History: HistoryConfig{
			Enabled: false,
			Branch:  "main",
			Content: ContentSource,
			Cache: CacheConfig{
				Enabled: false,
				Path:    filepath.Join(".pytrace", "snapshots.db"),
				LRUSize: 512,
			},
		},
		Dynamic: DynamicConfig{
			Python:    "python3",
			Attribute: "__traceability__",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "warn",
		},
	}
}

// ConfigDirName is the per-project directory holding config.json.
const ConfigDirName = ".pytrace"

// LoadConfig loads configuration for dir, applying environment overrides.
func LoadConfig(dir string) (*Config, error) {
	result, err := LoadConfigWithDetails(dir)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadResult describes where the effective configuration came from.
type LoadResult struct {
	Config       *Config
	ConfigPath   string
	Source       string // "json", "pyproject" or "defaults"
	UsedDefaults bool
	EnvOverrides []EnvOverride
}

// LoadConfigWithDetails resolves the configuration in order:
// PYTRACE_CONFIG_PATH, <dir>/.pytrace/config.json, then the
// [tool.pytraceability] table of the nearest pyproject.toml. Environment
// overrides are applied last.
func LoadConfigWithDetails(dir string, extraSearchDirs ...string) (*LoadResult, error) {
	result := &LoadResult{}

	if envPath := os.Getenv("PYTRACE_CONFIG_PATH"); envPath != "" {
		cfg, err := loadFromPath(envPath)
		if err != nil {
			return nil, err
		}
		result.Config = cfg
		result.ConfigPath = envPath
		result.Source = sourceFor(envPath)
	} else {
		cfg, path, err := loadConfigFromDir(dir)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			result.Config = cfg
			result.ConfigPath = path
			result.Source = "json"
		}
	}

	if result.Config == nil {
		searchDirs := append([]string{dir}, extraSearchDirs...)
		if cwd, err := os.Getwd(); err == nil {
			searchDirs = append(searchDirs, cwd)
		}
		if path := FindPyproject(searchDirs...); path != "" {
			cfg, err := LoadPyproject(path)
			if err != nil {
				return nil, err
			}
			if cfg != nil {
				result.Config = cfg
				result.ConfigPath = path
				result.Source = "pyproject"
			}
		}
	}

	if result.Config == nil {
		result.Config = DefaultConfig()
		result.Source = "defaults"
		result.UsedDefaults = true
	}

	result.EnvOverrides = applyEnvOverrides(result.Config)
	return result, nil
}

// LoadConfigFromPath loads an explicit JSON or pyproject.toml file and
// applies environment overrides.
func LoadConfigFromPath(path string) (*LoadResult, error) {
	cfg, err := loadFromPath(path)
	if err != nil {
		return nil, err
	}
	return &LoadResult{
		Config:       cfg,
		ConfigPath:   path,
		Source:       sourceFor(path),
		EnvOverrides: applyEnvOverrides(cfg),
	}, nil
}

func sourceFor(path string) string {
	if filepath.Base(path) == "pyproject.toml" || strings.HasSuffix(path, ".toml") {
		return "pyproject"
	}
	return "json"
}

// loadFromPath loads an explicit config file, JSON or pyproject.toml.
func loadFromPath(path string) (*Config, error) {
	if sourceFor(path) == "pyproject" {
		cfg, err := LoadPyproject(path)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, &ConfigError{Field: "path", Message: "no [tool.pytraceability] table in " + path}
		}
		return cfg, nil
	}
	return loadConfigFromPath(path)
}

// loadConfigFromDir reads <dir>/.pytrace/config.json. It returns nil
// without error when the file does not exist.
func loadConfigFromDir(dir string) (*Config, string, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(dir, ConfigDirName))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, "", nil
		}
		return nil, "", err
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

// loadConfigFromPath reads a JSON config file at an explicit path.
func loadConfigFromPath(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// newViper returns a viper instance seeded with every default, so keys
// missing from a file keep their default value.
func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("baseDirectory", d.BaseDirectory)
	v.SetDefault("decoratorName", d.DecoratorName)
	v.SetDefault("excludePatterns", d.ExcludePatterns)
	v.SetDefault("sourceExtensions", d.SourceExtensions)
	v.SetDefault("mode", d.Mode)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.branch", d.History.Branch)
	v.SetDefault("history.content", d.History.Content)
	v.SetDefault("history.collapseUnchanged", d.History.CollapseUnchanged)
	v.SetDefault("history.cache.enabled", d.History.Cache.Enabled)
	v.SetDefault("history.cache.path", d.History.Cache.Path)
	v.SetDefault("history.cache.lruSize", d.History.Cache.LRUSize)
	v.SetDefault("dynamic.python", d.Dynamic.Python)
	v.SetDefault("dynamic.attribute", d.Dynamic.Attribute)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to <dir>/.pytrace/config.json
func (c *Config) Save(dir string) error {
	configDir := filepath.Join(dir, ConfigDirName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.json"), data, 0644)
}

// NormalizeMode maps accepted aliases onto the canonical mode names.
func NormalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "default", "static", ModeStaticOnly:
		return ModeStaticOnly
	case "module-import", "dynamic", ModeStaticPlusDynamic:
		return ModeStaticPlusDynamic
	case "raw", ModeAllowRaw:
		return ModeAllowRaw
	}
	return mode
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if strings.TrimSpace(c.DecoratorName) == "" {
		return &ConfigError{Field: "decoratorName", Message: "must not be empty"}
	}
	switch NormalizeMode(c.Mode) {
	case ModeStaticOnly, ModeStaticPlusDynamic, ModeAllowRaw:
	default:
		return &ConfigError{Field: "mode", Message: "unknown mode " + c.Mode}
	}
	switch c.Output.Format {
	case FormatKeyOnly, FormatJSON, FormatJSONL, FormatYAML, FormatHTML:
	default:
		return &ConfigError{Field: "output.format", Message: "unknown format " + c.Output.Format}
	}
	switch c.History.Content {
	case ContentSource, ContentDiff:
	default:
		return &ConfigError{Field: "history.content", Message: "must be source or diff"}
	}
	if c.History.CommitURLTemplate != "" && !strings.Contains(c.History.CommitURLTemplate, "{commit}") {
		return &ConfigError{Field: "history.commitUrlTemplate", Message: "must contain {commit}"}
	}
	if _, err := ParseSince(c.History.Since); err != nil {
		return &ConfigError{Field: "history.since", Message: err.Error()}
	}
	if c.Workers < 0 {
		return &ConfigError{Field: "workers", Message: "must not be negative"}
	}
	if len(c.SourceExtensions) == 0 {
		return &ConfigError{Field: "sourceExtensions", Message: "must list at least one extension"}
	}
	return nil
}

var sinceLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseSince parses a history cutoff. An empty string means no cutoff and
// yields the zero time. Values without a zone are read as UTC.
func ParseSince(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range sinceLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date or RFC 3339 timestamp", s)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
