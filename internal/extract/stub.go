//go:build !cgo

package extract

import (
	"context"
	"errors"

	"pytrace/internal/marker"
)

// ErrNoCGO is returned when extraction is unavailable due to missing CGO.
var ErrNoCGO = errors.New("marker extraction requires CGO (tree-sitter)")

// Extract is unavailable without cgo.
func (e *Extractor) Extract(ctx context.Context, path string, source []byte) ([]marker.ExtractionRecord, error) {
	return nil, ErrNoCGO
}

// IsAvailable returns whether extraction is available.
// Returns false when CGO is disabled.
func IsAvailable() bool {
	return false
}
