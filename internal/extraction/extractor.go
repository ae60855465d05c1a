// Package extraction runs extraction configs against catalog URLs and stores
// the resulting snapshots.
package extraction

import (
	"context"
	"encoding/json"

	"github.com/spider-crawler/shopsync/internal/apperr"
)

// Result is what an Extractor returns for one page.
type Result struct {
	Meta    map[string]any `json:"meta"`
	Product map[string]any `json:"product"`
	Links   []string       `json:"links"`
}

// Extractor turns a page into a Result under an extraction config.
type Extractor interface {
	Extract(ctx context.Context, url string, cfg json.RawMessage) (*Result, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, url string, cfg json.RawMessage) (*Result, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, url string, cfg json.RawMessage) (*Result, error) {
	return f(ctx, url, cfg)
}

// classifyError keeps typed errors and marks everything else as an
// extractor failure.
func classifyError(url string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.Kind(err) != nil {
		return err
	}
	return apperr.E(apperr.ErrExtractor, "extract "+url, err)
}
