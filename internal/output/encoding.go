package output

import (
	"bytes"
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"pytrace/internal/collector"
)

// encodeJSON writes v as JSON without HTML escaping, so source code and
// diffs keep their < and > characters
func encodeJSON(w io.Writer, v interface{}, indent string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(v)
}

// renderJSON writes the whole result as one indented document
func renderJSON(w io.Writer, res *collector.Result) error {
	return encodeJSON(w, res, "  ")
}

// renderJSONL writes one compact report per line
func renderJSONL(w io.Writer, res *collector.Result) error {
	var buf bytes.Buffer
	for _, r := range res.Reports {
		buf.Reset()
		if err := encodeJSON(&buf, r, ""); err != nil {
			return err
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func renderYAML(w io.Writer, res *collector.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return err
	}
	return enc.Close()
}
