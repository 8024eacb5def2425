// Package extract finds traceability markers in Python source without
// running it. Files are parsed with tree-sitter and walked iteratively;
// marker arguments are resolved by a small constant evaluator and anything
// it cannot resolve is kept as a raw expression.
package extract

import (
	"fmt"

	"pytrace/internal/errors"
	"pytrace/internal/marker"
)

// Limits bound the work the constant evaluator may do for one value.
// Exceeding a limit makes the value raw rather than failing.
type Limits struct {
	// MaxIterations caps comprehension iterations and range lengths.
	MaxIterations int
	// MaxIntBits caps the size of integers produced by ** and <<.
	MaxIntBits int
	// MaxSequence caps the length of strings and sequences built by *.
	MaxSequence int
}

// DefaultLimits are used when none are configured.
var DefaultLimits = Limits{
	MaxIterations: 10000,
	MaxIntBits:    4096,
	MaxSequence:   100000,
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLimits overrides the evaluator limits.
func WithLimits(l Limits) Option {
	return func(e *Extractor) { e.limits = l }
}

// Extractor extracts ExtractionRecords from single files. It is safe for
// concurrent use.
type Extractor struct {
	decoratorName string
	limits        Limits
}

// New creates an Extractor matching decorators whose callee text equals
// decoratorName. An empty name selects marker.DefaultDecoratorName.
func New(decoratorName string, opts ...Option) *Extractor {
	if decoratorName == "" {
		decoratorName = marker.DefaultDecoratorName
	}
	e := &Extractor{decoratorName: decoratorName, limits: DefaultLimits}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DecoratorName returns the callee text the extractor matches.
func (e *Extractor) DecoratorName() string { return e.decoratorName }

func invalid(code errors.ErrorCode, path string, line int, function string) error {
	info := fmt.Sprintf("(%s:%d in %s)", path, line, function)
	return errors.NewInvalidTraceability(code, info).WithDetails(map[string]interface{}{
		"path":     path,
		"line":     line,
		"function": function,
	})
}

func syntaxError(path string, line, column int) error {
	return errors.NewTraceError(errors.SyntaxError,
		fmt.Sprintf("invalid syntax in %s at line %d, column %d", path, line, column), nil, nil).
		WithDetails(map[string]interface{}{"path": path, "line": line, "column": column})
}
