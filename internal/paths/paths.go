// Package paths converts between filesystem paths, repository-relative
// paths and Python module names.
package paths

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path does not live under the given root.
var ErrOutsideRoot = errors.New("path is outside root")

// resolve evaluates symlinks, keeping the path as-is when it does not exist.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", err
	}
	return resolved, nil
}

// CanonicalizePath converts a path to a root-relative canonical path
// - Resolves symlinks on both sides
// - Makes path relative to root
// - Uses forward slashes
func CanonicalizePath(path string, root string) (string, error) {
	resolved, err := resolve(path)
	if err != nil {
		return "", err
	}
	rootResolved, err := resolve(root)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsWithinRoot checks if a path is within root
func IsWithinRoot(path string, root string) bool {
	canonical, err := CanonicalizePath(path, root)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// JoinRoot joins a root with a canonical forward-slash path
func JoinRoot(root string, canonicalPath string) string {
	parts := strings.Split(strings.ReplaceAll(canonicalPath, "\\", "/"), "/")
	return filepath.Join(append([]string{root}, parts...)...)
}

// ModuleName computes the dotted module name Python would use to import
// file when projectRoot is on sys.path. The extension is stripped and a
// trailing __init__ collapses onto its package.
func ModuleName(file string, projectRoot string) (string, error) {
	rel, err := CanonicalizePath(file, projectRoot)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrOutsideRoot
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	parts := strings.Split(rel, "/")
	if len(parts) > 1 && parts[len(parts)-1] == "__init__" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "."), nil
}

// HasExtension reports whether path ends in one of exts. Extensions are
// compared case-sensitively and may be given with or without the dot.
func HasExtension(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if ext == e {
			return true
		}
	}
	return false
}

// SkipDir reports whether a directory should not be descended into while
// scanning: hidden directories and bytecode caches.
func SkipDir(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".") || name == "__pycache__"
}
