package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/spectrascout/trustcore/internal/errors"
	"github.com/spectrascout/trustcore/internal/resilience"
	"github.com/spectrascout/trustcore/internal/scoring"
	"github.com/spectrascout/trustcore/internal/types"
)

const reviewsSourceID = "reviews"

var reviewCountBaseline = []float64{0, 3, 10, 30, 100, 400}

// reviewSummary is the minimal contract required from a review provider:
// an average rating on a known scale and how many reviews back it.
type reviewSummary struct {
	Rating      float64   `json:"rating"`
	RatingScale float64   `json:"rating_scale"`
	ReviewCount int       `json:"review_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReviewSource reports employee review sentiment from a review provider's
// summary endpoint.
type ReviewSource struct {
	baseURL string
	ceiling time.Duration
	client  *resilience.HTTPClient
}

// NewReviewSource creates a review-backed evidence source.
func NewReviewSource(baseURL string, ceiling time.Duration) *ReviewSource {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	})

	return &ReviewSource{
		baseURL: baseURL,
		ceiling: ceiling,
		client:  resilience.NewHTTPClient(reviewsSourceID, resilience.DefaultHTTPClientConfig(), breaker),
	}
}

func (r *ReviewSource) ID() string { return reviewsSourceID }

func (r *ReviewSource) Dimensions() []types.Dimension {
	return []types.Dimension{types.DimReviewSentiment}
}

// Fetch implements EvidenceSource.
func (r *ReviewSource) Fetch(ctx context.Context, subject string, dimension types.Dimension) (types.EvidenceRecord, error) {
	if dimension != types.DimReviewSentiment {
		return types.EvidenceRecord{}, apperrors.NewValidationError(
			fmt.Sprintf("reviews source does not report %s", dimension))
	}

	ctx, cancel := withCeiling(ctx, r.ceiling)
	defer cancel()

	endpoint := fmt.Sprintf("%s/companies/%s/summary", r.baseURL, url.PathEscape(subject))

	resp, err := r.client.DoRequest(ctx, http.MethodGet, endpoint, map[string]string{
		"Accept":     "application/json",
		"User-Agent": "trustcore/1.0",
	})
	if err != nil {
		if ctx.Err() != nil {
			return types.EvidenceRecord{}, apperrors.NewSourceTimeoutError(reviewsSourceID, r.ceiling, err)
		}
		return types.EvidenceRecord{}, apperrors.NewSourceUnavailableError(reviewsSourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.EvidenceRecord{}, apperrors.NewSourceUnavailableError(reviewsSourceID,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var summary reviewSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return types.EvidenceRecord{}, apperrors.NewSourceMalformedError(reviewsSourceID, err)
	}

	scale := summary.RatingScale
	if scale <= 0 {
		scale = 5
	}
	if summary.Rating < 0 || summary.Rating > scale {
		return types.EvidenceRecord{}, apperrors.NewSourceMalformedError(reviewsSourceID,
			fmt.Errorf("rating %.2f outside scale 0-%.0f", summary.Rating, scale))
	}

	normalized := summary.Rating / scale

	// A handful of reviews is anecdote; hundreds is signal. Old summaries
	// decay.
	confidence := scoring.NormalizeCount(float64(summary.ReviewCount), reviewCountBaseline)
	staleness := time.Duration(0)
	if !summary.UpdatedAt.IsZero() {
		staleness = time.Since(summary.UpdatedAt)
		confidence = scoring.StalenessConfidence(confidence, staleness, 24*time.Hour*180)
	}

	raw := fmt.Sprintf("rating=%.2f/%.0f reviews=%d", summary.Rating, scale, summary.ReviewCount)
	return record(reviewsSourceID, types.DimReviewSentiment, raw, normalized, confidence, staleness), nil
}

// Close releases the source's transport.
func (r *ReviewSource) Close() error {
	return r.client.Close()
}
