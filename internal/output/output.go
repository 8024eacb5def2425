// Package output renders collection results for the command line.
package output

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"pytrace/internal/collector"
	"pytrace/internal/config"
)

// RenderFunc writes a result in one format
type RenderFunc func(w io.Writer, res *collector.Result) error

var renderers = map[string]RenderFunc{
	config.FormatKeyOnly: renderKeys,
	config.FormatJSON:    renderJSON,
	config.FormatJSONL:   renderJSONL,
	config.FormatYAML:    renderYAML,
	config.FormatHTML:    renderHTML,
}

// Formats lists the supported format names
func Formats() []string {
	names := make([]string, 0, len(renderers))
	for name := range renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render writes res to w in the named format
func Render(w io.Writer, format string, res *collector.Result) error {
	render, ok := renderers[format]
	if !ok {
		return fmt.Errorf("unknown output format %q", format)
	}
	bw := bufio.NewWriter(w)
	if err := render(bw, res); err != nil {
		return err
	}
	return bw.Flush()
}

// renderKeys writes one key per line
func renderKeys(w io.Writer, res *collector.Result) error {
	for _, r := range res.Reports {
		if _, err := fmt.Fprintln(w, r.Key); err != nil {
			return err
		}
	}
	return nil
}
