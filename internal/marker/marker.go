// Package marker holds the data shapes shared by extraction, resolution,
// history mining and rendering.
package marker

import (
	"sort"
	"time"
)

// DefaultDecoratorName is the annotation matched when none is configured.
const DefaultDecoratorName = "traceability"

// Metadata maps keyword argument names to their values.
type Metadata map[string]Value

// Complete reports whether every value is fully resolved.
func (m Metadata) Complete() bool {
	for _, v := range m {
		if !v.Complete() {
			return false
		}
	}
	return true
}

// Keys returns the metadata names in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Marker is one traceability annotation applied to a declaration.
type Marker struct {
	Key      string   `json:"key" yaml:"key"`
	Metadata Metadata `json:"metadata" yaml:"metadata"`
}

// Complete reports whether the marker's metadata needs no code execution.
func (m Marker) Complete() bool {
	return m.Metadata.Complete()
}

// Location describes where an annotated declaration lives.
type Location struct {
	FilePath      string `json:"filePath" yaml:"filePath"`
	FunctionName  string `json:"functionName" yaml:"functionName"`
	LineNumber    int    `json:"lineNumber" yaml:"lineNumber"`
	EndLineNumber int    `json:"endLineNumber" yaml:"endLineNumber"`
	SourceCode    string `json:"sourceCode" yaml:"sourceCode"`
}

// ExtractionRecord is one annotated declaration and its markers in
// stacking order.
type ExtractionRecord struct {
	Location `yaml:",inline"`
	Markers []Marker `json:"markers" yaml:"markers"`
}

// Complete reports whether all markers on the record are complete.
func (r ExtractionRecord) Complete() bool {
	for _, m := range r.Markers {
		if !m.Complete() {
			return false
		}
	}
	return true
}

// HistoryEntry is one past state of an annotated declaration.
type HistoryEntry struct {
	Commit     string    `json:"commit" yaml:"commit"`
	CommitURL  string    `json:"commitUrl,omitempty" yaml:"commitUrl,omitempty"`
	AuthorName string    `json:"authorName" yaml:"authorName"`
	AuthorDate time.Time `json:"authorDate" yaml:"authorDate"`
	Message    string    `json:"message" yaml:"message"`
	SourceCode string    `json:"sourceCode,omitempty" yaml:"sourceCode,omitempty"`
	Diff       string    `json:"diff,omitempty" yaml:"diff,omitempty"`
}

// TraceabilityReport is the one-marker-per-row view of an ExtractionRecord.
type TraceabilityReport struct {
	Location   `yaml:",inline"`
	Key        string         `json:"key" yaml:"key"`
	Metadata   Metadata       `json:"metadata" yaml:"metadata"`
	IsComplete bool           `json:"isComplete" yaml:"isComplete"`
	History    []HistoryEntry `json:"history" yaml:"history"`
}

// Flatten projects records into reports, one per marker, preserving order.
func Flatten(records []ExtractionRecord) []TraceabilityReport {
	var reports []TraceabilityReport
	for _, rec := range records {
		for _, m := range rec.Markers {
			reports = append(reports, TraceabilityReport{
				Location:   rec.Location,
				Key:        m.Key,
				Metadata:   m.Metadata,
				IsComplete: m.Complete(),
			})
		}
	}
	return reports
}

// SortByKey orders reports by key.
func SortByKey(reports []TraceabilityReport) {
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Key < reports[j].Key
	})
}
