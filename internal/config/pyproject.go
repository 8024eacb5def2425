package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	gotoml "github.com/pelletier/go-toml/v2"
)

// PyprojectTable is the name of the pyproject.toml table holding settings.
const PyprojectTable = "pytraceability"

// pyprojectSettings mirrors [tool.pytraceability]. Pointers distinguish
// unset keys from zero values.
type pyprojectSettings struct {
	BaseDirectory    *string           `toml:"base_directory"`
	PythonRoot       *string           `toml:"python_root"`
	RepoRoot         *string           `toml:"repo_root"`
	DecoratorName    *string           `toml:"decorator_name"`
	ExcludePatterns  []string          `toml:"exclude_patterns"`
	SourceExtensions []string          `toml:"source_extensions"`
	Mode             *string           `toml:"mode"`
	OutputFormat     *string           `toml:"output_format"`
	Workers          *int              `toml:"workers"`
	History          *pyprojectHistory `toml:"history"`
	Python           *string           `toml:"python"`
	LogLevel         *string           `toml:"log_level"`
}

type pyprojectHistory struct {
	Enabled           *bool   `toml:"enabled"`
	GitBranch         *string `toml:"git_branch"`
	CommitURLTemplate *string `toml:"commit_url_template"`
	Since             *string `toml:"since"`
	Content           *string `toml:"content"`
	CollapseUnchanged *bool   `toml:"collapse_unchanged"`
	Cache             *bool   `toml:"cache"`
	CachePath         *string `toml:"cache_path"`
}

type pyprojectFile struct {
	Tool map[string]toml.Primitive `toml:"tool"`
}

// FindPyproject returns the first pyproject.toml found in dirs, or "".
func FindPyproject(dirs ...string) string {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, "pyproject.toml")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// LoadPyproject reads [tool.pytraceability] from a pyproject.toml. It
// returns nil without error when the file has no such table. Relative
// paths in the table are resolved against the file's directory.
func LoadPyproject(path string) (*Config, error) {
	var file pyprojectFile
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	prim, ok := file.Tool[PyprojectTable]
	if !ok {
		return nil, nil
	}
	var settings pyprojectSettings
	if err := md.PrimitiveDecode(prim, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode [tool.%s] in %s: %w", PyprojectTable, path, err)
	}

	cfg := DefaultConfig()
	settings.apply(cfg, filepath.Dir(path))
	return cfg, nil
}

func (s *pyprojectSettings) apply(cfg *Config, dir string) {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	cfg.BaseDirectory = dir
	if s.BaseDirectory != nil {
		cfg.BaseDirectory = resolve(*s.BaseDirectory)
	}
	if s.PythonRoot != nil {
		cfg.ProjectRoot = resolve(*s.PythonRoot)
	}
	if s.RepoRoot != nil {
		cfg.RepoRoot = resolve(*s.RepoRoot)
	}
	if s.DecoratorName != nil {
		cfg.DecoratorName = *s.DecoratorName
	}
	if s.ExcludePatterns != nil {
		cfg.ExcludePatterns = s.ExcludePatterns
	}
	if s.SourceExtensions != nil {
		cfg.SourceExtensions = s.SourceExtensions
	}
	if s.Mode != nil {
		cfg.Mode = NormalizeMode(*s.Mode)
	}
	if s.OutputFormat != nil {
		cfg.Output.Format = *s.OutputFormat
	}
	if s.Workers != nil {
		cfg.Workers = *s.Workers
	}
	if s.Python != nil {
		cfg.Dynamic.Python = *s.Python
	}
	if s.LogLevel != nil {
		cfg.Logging.Level = *s.LogLevel
	}
	if h := s.History; h != nil {
		// A [history] table switches history on unless it says otherwise.
		cfg.History.Enabled = true
		if h.Enabled != nil {
			cfg.History.Enabled = *h.Enabled
		}
		if h.GitBranch != nil {
			cfg.History.Branch = *h.GitBranch
		}
		if h.CommitURLTemplate != nil {
			cfg.History.CommitURLTemplate = *h.CommitURLTemplate
		}
		if h.Since != nil {
			cfg.History.Since = *h.Since
		}
		if h.Content != nil {
			cfg.History.Content = *h.Content
		}
		if h.CollapseUnchanged != nil {
			cfg.History.CollapseUnchanged = *h.CollapseUnchanged
		}
		if h.Cache != nil {
			cfg.History.Cache.Enabled = *h.Cache
		}
		if h.CachePath != nil {
			cfg.History.Cache.Path = *h.CachePath
		}
	}
}

// pyprojectOut is the shape written by ToPyproject.
type pyprojectOut struct {
	Tool struct {
		Pytraceability pyprojectOutSettings `toml:"pytraceability"`
	} `toml:"tool"`
}

type pyprojectOutSettings struct {
	BaseDirectory    string               `toml:"base_directory"`
	PythonRoot       string               `toml:"python_root,omitempty"`
	RepoRoot         string               `toml:"repo_root,omitempty"`
	DecoratorName    string               `toml:"decorator_name"`
	ExcludePatterns  []string             `toml:"exclude_patterns"`
	SourceExtensions []string             `toml:"source_extensions"`
	Mode             string               `toml:"mode"`
	OutputFormat     string               `toml:"output_format"`
	Workers          int                  `toml:"workers"`
	Python           string               `toml:"python"`
	History          *pyprojectOutHistory `toml:"history,omitempty"`
}

type pyprojectOutHistory struct {
	GitBranch         string `toml:"git_branch"`
	CommitURLTemplate string `toml:"commit_url_template,omitempty"`
	Since             string `toml:"since,omitempty"`
	Content           string `toml:"content"`
	CollapseUnchanged bool   `toml:"collapse_unchanged"`
	Cache             bool   `toml:"cache"`
	CachePath         string `toml:"cache_path"`
}

// ToPyproject renders cfg as a [tool.pytraceability] snippet.
func (c *Config) ToPyproject() (string, error) {
	var out pyprojectOut
	s := &out.Tool.Pytraceability
	s.BaseDirectory = c.BaseDirectory
	s.PythonRoot = c.ProjectRoot
	s.RepoRoot = c.RepoRoot
	s.DecoratorName = c.DecoratorName
	s.ExcludePatterns = c.ExcludePatterns
	s.SourceExtensions = c.SourceExtensions
	s.Mode = c.Mode
	s.OutputFormat = c.Output.Format
	s.Workers = c.Workers
	s.Python = c.Dynamic.Python
	if c.History.Enabled {
		s.History = &pyprojectOutHistory{
			GitBranch:         c.History.Branch,
			CommitURLTemplate: c.History.CommitURLTemplate,
			Since:             c.History.Since,
			Content:           c.History.Content,
			CollapseUnchanged: c.History.CollapseUnchanged,
			Cache:             c.History.Cache.Enabled,
			CachePath:         c.History.Cache.Path,
		}
	}

	var buf bytes.Buffer
	enc := gotoml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(out); err != nil {
		return "", err
	}
	return buf.String(), nil
}
