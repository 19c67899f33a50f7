package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/spectrascout/trustcore/internal/errors"
	"github.com/spectrascout/trustcore/internal/resilience"
	"github.com/spectrascout/trustcore/internal/scoring"
	"github.com/spectrascout/trustcore/internal/types"
)

const webSearchSourceID = "websearch"

var webResultsBaseline = []float64{0, 2, 5, 10, 20, 40}

// scamTerms are scanned across result titles and snippets. Hits push the
// review_sentiment evidence from this source toward zero.
var scamTerms = []string{"scam", "fraud", "fake job", "recruitment fraud", "lawsuit", "complaint"}

// searchResponse is the minimal contract required from the search provider:
// a list of results with title/url/snippet.
type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// WebSearchSource measures web presence and scans for scam or fraud
// reports through a JSON search endpoint.
type WebSearchSource struct {
	baseURL string
	ceiling time.Duration
	client  *resilience.HTTPClient
}

// NewWebSearchSource creates a search-backed evidence source.
func NewWebSearchSource(baseURL string, ceiling time.Duration) *WebSearchSource {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	})

	return &WebSearchSource{
		baseURL: baseURL,
		ceiling: ceiling,
		client:  resilience.NewHTTPClient(webSearchSourceID, resilience.DefaultHTTPClientConfig(), breaker),
	}
}

func (w *WebSearchSource) ID() string { return webSearchSourceID }

func (w *WebSearchSource) Dimensions() []types.Dimension {
	return []types.Dimension{types.DimWebPresence, types.DimReviewSentiment}
}

// Fetch implements EvidenceSource.
func (w *WebSearchSource) Fetch(ctx context.Context, subject string, dimension types.Dimension) (types.EvidenceRecord, error) {
	ctx, cancel := withCeiling(ctx, w.ceiling)
	defer cancel()

	switch dimension {
	case types.DimWebPresence:
		resp, err := w.search(ctx, subject)
		if err != nil {
			return types.EvidenceRecord{}, err
		}

		normalized := scoring.NormalizeCount(float64(len(resp.Results)), webResultsBaseline)
		confidence := 0.6
		if len(resp.Results) == 0 {
			// No results is itself a strong signal for an allegedly
			// established company.
			confidence = 0.8
		}

		raw := fmt.Sprintf("results=%d", len(resp.Results))
		return record(webSearchSourceID, types.DimWebPresence, raw, normalized, confidence, 0), nil

	case types.DimReviewSentiment:
		resp, err := w.search(ctx, subject+" reviews scam fraud")
		if err != nil {
			return types.EvidenceRecord{}, err
		}

		hits := countScamHits(resp.Results)
		total := len(resp.Results)

		// No results at all: nothing bad found, but weak evidence.
		if total == 0 {
			return record(webSearchSourceID, types.DimReviewSentiment, "results=0", 0.5, 0.2, 0), nil
		}

		hitRate := float64(hits) / float64(total)
		normalized := scoring.Clip(1-hitRate, 0, 1)

		// More corroborating results make the scan more trustworthy.
		confidence := scoring.Clip(0.3+0.05*float64(total), 0, 0.8)

		raw := fmt.Sprintf("results=%d scam_hits=%d", total, hits)
		return record(webSearchSourceID, types.DimReviewSentiment, raw, normalized, confidence, 0), nil

	default:
		return types.EvidenceRecord{}, apperrors.NewValidationError(
			fmt.Sprintf("websearch source does not report %s", dimension))
	}
}

func (w *WebSearchSource) search(ctx context.Context, query string) (*searchResponse, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", w.baseURL, url.QueryEscape(query))

	resp, err := w.client.DoRequest(ctx, http.MethodGet, endpoint, map[string]string{
		"Accept":     "application/json",
		"User-Agent": "trustcore/1.0",
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewSourceTimeoutError(webSearchSourceID, w.ceiling, err)
		}
		return nil, apperrors.NewSourceUnavailableError(webSearchSourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.NewSourceUnavailableError(webSearchSourceID,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewSourceMalformedError(webSearchSourceID, err)
	}
	return &parsed, nil
}

func countScamHits(results []searchResult) int {
	hits := 0
	for _, r := range results {
		text := strings.ToLower(r.Title + " " + r.Content)
		for _, term := range scamTerms {
			if strings.Contains(text, term) {
				hits++
				break
			}
		}
	}
	return hits
}

// Close releases the source's transport.
func (w *WebSearchSource) Close() error {
	return w.client.Close()
}
