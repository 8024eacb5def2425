package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// EnvOverride records a configuration value taken from the environment.
type EnvOverride struct {
	EnvVar string      `json:"envVar"`
	Path   string      `json:"path"`
	Value  interface{} `json:"value"`
}

type envKind int

const (
	envString envKind = iota
	envBool
	envInt
	envList
)

type envMapping struct {
	path string
	kind envKind
}

// envVarMappings maps PYTRACE_* variables onto config paths.
var envVarMappings = map[string]envMapping{
	"PYTRACE_BASE_DIRECTORY":             {"baseDirectory", envString},
	"PYTRACE_PROJECT_ROOT":               {"projectRoot", envString},
	"PYTRACE_REPO_ROOT":                  {"repoRoot", envString},
	"PYTRACE_DECORATOR_NAME":             {"decoratorName", envString},
	"PYTRACE_EXCLUDE_PATTERNS":           {"excludePatterns", envList},
	"PYTRACE_SOURCE_EXTENSIONS":          {"sourceExtensions", envList},
	"PYTRACE_MODE":                       {"mode", envString},
	"PYTRACE_WORKERS":                    {"workers", envInt},
	"PYTRACE_OUTPUT_FORMAT":              {"output.format", envString},
	"PYTRACE_HISTORY":                    {"history.enabled", envBool},
	"PYTRACE_HISTORY_SINCE":              {"history.since", envString},
	"PYTRACE_GIT_BRANCH":                 {"history.branch", envString},
	"PYTRACE_COMMIT_URL_TEMPLATE":        {"history.commitUrlTemplate", envString},
	"PYTRACE_HISTORY_CONTENT":            {"history.content", envString},
	"PYTRACE_HISTORY_COLLAPSE_UNCHANGED": {"history.collapseUnchanged", envBool},
	"PYTRACE_HISTORY_CACHE":              {"history.cache.enabled", envBool},
	"PYTRACE_HISTORY_CACHE_PATH":         {"history.cache.path", envString},
	"PYTRACE_HISTORY_CACHE_LRU_SIZE":     {"history.cache.lruSize", envInt},
	"PYTRACE_PYTHON":                     {"dynamic.python", envString},
	"PYTRACE_DYNAMIC_ATTRIBUTE":          {"dynamic.attribute", envString},
	"PYTRACE_LOG_LEVEL":                  {"logging.level", envString},
	"PYTRACE_LOG_FORMAT":                 {"logging.format", envString},
	"PYTRACE_LOG_FILE":                   {"logging.file", envString},
}

// GetSupportedEnvVars lists every recognised PYTRACE_* variable.
func GetSupportedEnvVars() []string {
	vars := make([]string, 0, len(envVarMappings))
	for k := range envVarMappings {
		vars = append(vars, k)
	}
	sort.Strings(vars)
	return vars
}

// EnvVarPath returns the config path for a variable, if it is recognised.
func EnvVarPath(envVar string) (string, bool) {
	m, ok := envVarMappings[envVar]
	return m.path, ok
}

// applyEnvOverrides applies PYTRACE_* variables to cfg in a stable order.
// Values that do not parse for their field are skipped.
func applyEnvOverrides(cfg *Config) []EnvOverride {
	var overrides []EnvOverride
	for _, envVar := range GetSupportedEnvVars() {
		raw, ok := os.LookupEnv(envVar)
		if !ok || raw == "" {
			continue
		}
		m := envVarMappings[envVar]

		var value interface{}
		switch m.kind {
		case envString:
			value = raw
		case envBool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				continue
			}
			value = b
		case envInt:
			i, err := strconv.Atoi(raw)
			if err != nil {
				continue
			}
			value = i
		case envList:
			value = splitList(raw)
		}

		if applyOverride(cfg, m.path, value) {
			overrides = append(overrides, EnvOverride{EnvVar: envVar, Path: m.path, Value: value})
		}
	}
	return overrides
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyOverride sets the field at path. It returns false for unknown paths
// or values of the wrong type.
func applyOverride(cfg *Config, path string, value interface{}) bool {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "baseDirectory":
		return setString(&cfg.BaseDirectory, parts, 1, value)
	case "projectRoot":
		return setString(&cfg.ProjectRoot, parts, 1, value)
	case "repoRoot":
		return setString(&cfg.RepoRoot, parts, 1, value)
	case "decoratorName":
		return setString(&cfg.DecoratorName, parts, 1, value)
	case "excludePatterns":
		return setList(&cfg.ExcludePatterns, parts, 1, value)
	case "sourceExtensions":
		return setList(&cfg.SourceExtensions, parts, 1, value)
	case "mode":
		return setString(&cfg.Mode, parts, 1, value)
	case "workers":
		return setInt(&cfg.Workers, parts, 1, value)
	case "output":
		if len(parts) == 2 && parts[1] == "format" {
			return setString(&cfg.Output.Format, parts, 2, value)
		}
	case "history":
		return applyHistoryOverride(&cfg.History, parts, value)
	case "dynamic":
		if len(parts) != 2 {
			return false
		}
		switch parts[1] {
		case "python":
			return setString(&cfg.Dynamic.Python, parts, 2, value)
		case "attribute":
			return setString(&cfg.Dynamic.Attribute, parts, 2, value)
		}
	case "logging":
		if len(parts) != 2 {
			return false
		}
		switch parts[1] {
		case "level":
			return setString(&cfg.Logging.Level, parts, 2, value)
		case "format":
			return setString(&cfg.Logging.Format, parts, 2, value)
		case "file":
			return setString(&cfg.Logging.File, parts, 2, value)
		}
	}
	return false
}

func applyHistoryOverride(h *HistoryConfig, parts []string, value interface{}) bool {
	if len(parts) < 2 {
		return false
	}
	switch parts[1] {
	case "enabled":
		return setBool(&h.Enabled, parts, 2, value)
	case "since":
		return setString(&h.Since, parts, 2, value)
	case "branch":
		return setString(&h.Branch, parts, 2, value)
	case "commitUrlTemplate":
		return setString(&h.CommitURLTemplate, parts, 2, value)
	case "content":
		return setString(&h.Content, parts, 2, value)
	case "collapseUnchanged":
		return setBool(&h.CollapseUnchanged, parts, 2, value)
	case "cache":
		if len(parts) != 3 {
			return false
		}
		switch parts[2] {
		case "enabled":
			return setBool(&h.Cache.Enabled, parts, 3, value)
		case "path":
			return setString(&h.Cache.Path, parts, 3, value)
		case "lruSize":
			return setInt(&h.Cache.LRUSize, parts, 3, value)
		}
	}
	return false
}

func setString(dst *string, parts []string, depth int, value interface{}) bool {
	s, ok := value.(string)
	if !ok || len(parts) != depth {
		return false
	}
	*dst = s
	return true
}

func setBool(dst *bool, parts []string, depth int, value interface{}) bool {
	b, ok := value.(bool)
	if !ok || len(parts) != depth {
		return false
	}
	*dst = b
	return true
}

func setInt(dst *int, parts []string, depth int, value interface{}) bool {
	i, ok := value.(int)
	if !ok || len(parts) != depth {
		return false
	}
	*dst = i
	return true
}

func setList(dst *[]string, parts []string, depth int, value interface{}) bool {
	l, ok := value.([]string)
	if !ok || len(parts) != depth {
		return false
	}
	*dst = l
	return true
}
