package dynamic

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"pytrace/internal/errors"
	"pytrace/internal/marker"
)

//go:embed loader.py
var loaderScript string

const (
	// DefaultPython is the interpreter used when none is configured.
	DefaultPython = "python3"
	// DefaultAttribute is where the marker decorator stores its markers.
	DefaultAttribute = "__traceability__"
)

// PythonLoader imports modules with a real interpreter running an embedded
// helper script.
type PythonLoader struct {
	Python      string
	Attribute   string
	ProjectRoot string
}

// NewPythonLoader creates a loader importing modules relative to
// projectRoot. Empty python or attribute select the defaults.
func NewPythonLoader(python, attribute, projectRoot string) *PythonLoader {
	if python == "" {
		python = DefaultPython
	}
	if attribute == "" {
		attribute = DefaultAttribute
	}
	return &PythonLoader{Python: python, Attribute: attribute, ProjectRoot: projectRoot}
}

// Available reports whether the interpreter can be found.
func (p *PythonLoader) Available() bool {
	_, err := exec.LookPath(p.Python)
	return err == nil
}

// Load imports file as moduleName and returns the markers attached to every
// declaration reachable from the module by attribute lookup.
func (p *PythonLoader) Load(ctx context.Context, file, moduleName string) (map[string][]marker.Marker, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, p.Python, "-c", loaderScript, abs, moduleName, p.Attribute)
	cmd.Dir = p.ProjectRoot
	cmd.Env = append(os.Environ(), "PYTHONDONTWRITEBYTECODE=1", "PYTHONPATH="+pythonPath(p.ProjectRoot))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewTraceError(
			errors.DynamicLoadFailed,
			fmt.Sprintf("failed to import %s as %s", file, moduleName),
			err,
			nil,
		).WithDetails(map[string]interface{}{
			"python": p.Python,
			"module": moduleName,
			"stderr": lastLines(stderr.String(), 20),
		})
	}

	entries, err := decodeOutput(stdout.Bytes())
	if err != nil {
		return nil, errors.NewTraceError(errors.InternalError, "unexpected loader output", err, nil)
	}
	return entries, nil
}

func pythonPath(root string) string {
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		return root + string(os.PathListSeparator) + existing
	}
	return root
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
