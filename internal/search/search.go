// Package search defines the search-engine collaborator the decision
// pipeline queries for pages visually or textually related to a screenshot,
// plus the logo-classifier hook that seeds image-mode queries.
package search

import (
	"context"
	"image"

	"phishdetect/internal/domain"
)

// Mode selects how a search run uses the screenshot.
type Mode string

const (
	// ModeText searches on classified logo labels without uploading the image.
	ModeText Mode = "text"
	// ModeImage uploads the screenshot for reverse image search.
	ModeImage Mode = "image"
)

// Stage maps a search mode onto the pipeline stage that owns its results.
func (m Mode) Stage() domain.Stage {
	if m == ModeImage {
		return domain.StageImageSearch
	}
	return domain.StageTextSearch
}

// Request describes one search run. Results are written into the output
// cache keyed by URLHash; the pipeline reads them back per stage.
type Request struct {
	URLHash    string
	Mode       Mode
	Upload     bool
	DomainHint string // registered domain of the checked page, image mode only
	Screenshot image.Image
}

// Engine is the search-engine collaborator. Implementations write candidate
// URLs into the result cache; the pipeline never consumes them directly.
type Engine interface {
	Search(ctx context.Context, req Request) error
}

// Classifier tags a region fingerprint with a brand/logo label. Consumed by
// search engines to build text queries, never by the pipeline itself.
type Classifier interface {
	Classify(ctx context.Context, fp domain.RegionFingerprint) (string, error)
}

// ResultWriter receives the candidate URLs a search run produced.
type ResultWriter interface {
	StoreSearchResults(ctx context.Context, stage domain.Stage, urlHash string, urls []string) error
}
