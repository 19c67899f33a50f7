// Package sources defines the EvidenceSource capability interface and the
// concrete providers that feed the collector. Each source wraps one external
// collaborator behind the same contract: fetch one evidence record for one
// (subject, dimension), idempotently, within a hard time ceiling.
package sources

import (
	"context"
	"time"

	"github.com/spectrascout/trustcore/internal/types"
)

// DefaultFetchCeiling is the hard upper bound on a single fetch. A source
// must never block past its ceiling, whatever its transport does.
const DefaultFetchCeiling = 8 * time.Second

// EvidenceSource is the uniform contract over every external collaborator.
type EvidenceSource interface {
	// ID identifies this source in evidence records and metrics.
	ID() string

	// Dimensions lists the dimensions this source can report on.
	Dimensions() []types.Dimension

	// Fetch returns one evidence record for the subject and dimension. It
	// must be idempotent, enforce its own timeout, and return a taxonomy
	// error (SourceUnavailable, SourceTimeout, SourceMalformed) on failure.
	Fetch(ctx context.Context, subject string, dimension types.Dimension) (types.EvidenceRecord, error)
}

// Registry is the explicit set of sources constructed at startup. No
// runtime discovery; a source is either wired here or it does not exist.
type Registry struct {
	sources []EvidenceSource
}

// NewRegistry creates a registry over the given sources.
func NewRegistry(srcs ...EvidenceSource) *Registry {
	return &Registry{sources: srcs}
}

// Register appends a source.
func (r *Registry) Register(src EvidenceSource) {
	r.sources = append(r.sources, src)
}

// All returns every registered source.
func (r *Registry) All() []EvidenceSource {
	return r.sources
}

// ForDimension returns the sources able to report on dim.
func (r *Registry) ForDimension(dim types.Dimension) []EvidenceSource {
	var out []EvidenceSource
	for _, src := range r.sources {
		for _, d := range src.Dimensions() {
			if d == dim {
				out = append(out, src)
				break
			}
		}
	}
	return out
}

// withCeiling derives a context bounded by the source's fetch ceiling.
func withCeiling(ctx context.Context, ceiling time.Duration) (context.Context, context.CancelFunc) {
	if ceiling <= 0 {
		ceiling = DefaultFetchCeiling
	}
	return context.WithTimeout(ctx, ceiling)
}

// record assembles an evidence record with clamped values.
func record(sourceID string, dim types.Dimension, raw string, normalized, confidence float64, staleness time.Duration) types.EvidenceRecord {
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return types.EvidenceRecord{
		SourceID:   sourceID,
		Dimension:  dim,
		RawValue:   raw,
		Normalized: normalized,
		Confidence: confidence,
		FetchedAt:  time.Now().UTC(),
		Staleness:  staleness,
	}
}
