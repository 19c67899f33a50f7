package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	apperrors "github.com/spectrascout/trustcore/internal/errors"
	"github.com/spectrascout/trustcore/internal/resilience"
	"github.com/spectrascout/trustcore/internal/scoring"
	"github.com/spectrascout/trustcore/internal/types"
)

const websiteSourceID = "website"

// WebsiteSource scrapes the subject company's own site for presence and
// key-employee signals: team or about pages, professional profile links,
// contact details. A company that claims to exist but has none of these
// scores low on both dimensions.
type WebsiteSource struct {
	scheme  string
	ceiling time.Duration
	client  *resilience.HTTPClient
}

// NewWebsiteSource creates the scraping source. scheme is "https" outside
// of tests.
func NewWebsiteSource(scheme string, ceiling time.Duration) *WebsiteSource {
	if scheme == "" {
		scheme = "https"
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	})

	return &WebsiteSource{
		scheme:  scheme,
		ceiling: ceiling,
		client:  resilience.NewHTTPClient(websiteSourceID, resilience.DefaultHTTPClientConfig(), breaker),
	}
}

func (w *WebsiteSource) ID() string { return websiteSourceID }

func (w *WebsiteSource) Dimensions() []types.Dimension {
	return []types.Dimension{types.DimWebPresence, types.DimEmployeeCredibility}
}

// Fetch implements EvidenceSource.
func (w *WebsiteSource) Fetch(ctx context.Context, subject string, dimension types.Dimension) (types.EvidenceRecord, error) {
	ctx, cancel := withCeiling(ctx, w.ceiling)
	defer cancel()

	doc, err := w.load(ctx, subject)
	if err != nil {
		return types.EvidenceRecord{}, err
	}

	switch dimension {
	case types.DimWebPresence:
		return w.presence(doc), nil
	case types.DimEmployeeCredibility:
		return w.credibility(doc), nil
	default:
		return types.EvidenceRecord{}, apperrors.NewValidationError(
			fmt.Sprintf("website source does not report %s", dimension))
	}
}

// load fetches and parses the subject's homepage. Subjects that already
// look like a hostname are used as-is; bare names get a www...com guess.
func (w *WebsiteSource) load(ctx context.Context, subject string) (*goquery.Document, error) {
	host := strings.ToLower(strings.TrimSpace(subject))
	if !strings.Contains(host, ".") {
		host = "www." + strings.ReplaceAll(host, " ", "") + ".com"
	}
	endpoint := fmt.Sprintf("%s://%s/", w.scheme, host)

	resp, err := w.client.DoRequest(ctx, http.MethodGet, endpoint, map[string]string{
		"User-Agent": "trustcore/1.0",
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewSourceTimeoutError(websiteSourceID, w.ceiling, err)
		}
		return nil, apperrors.NewSourceUnavailableError(websiteSourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewSourceUnavailableError(websiteSourceID,
			fmt.Errorf("status %d fetching %s", resp.StatusCode, endpoint))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, apperrors.NewSourceMalformedError(websiteSourceID, err)
	}
	return doc, nil
}

func (w *WebsiteSource) presence(doc *goquery.Document) types.EvidenceRecord {
	signals := 0

	if strings.TrimSpace(doc.Find("title").First().Text()) != "" {
		signals++
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && strings.TrimSpace(desc) != "" {
		signals++
	}
	if hasLinkMatching(doc, "contact") {
		signals++
	}
	if hasLinkMatching(doc, "about") {
		signals++
	}
	if doc.Find("footer").Length() > 0 {
		signals++
	}

	normalized := scoring.Clip(float64(signals)/5.0, 0, 1)

	// Scraping one page is shallow evidence either way.
	raw := fmt.Sprintf("presence_signals=%d/5", signals)
	return record(websiteSourceID, types.DimWebPresence, raw, normalized, 0.5, 0)
}

func (w *WebsiteSource) credibility(doc *goquery.Document) types.EvidenceRecord {
	profiles := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.ToLower(href)
		if strings.Contains(href, "linkedin.com/in/") || strings.Contains(href, "linkedin.com/company/") {
			profiles++
		}
	})

	teamPage := hasLinkMatching(doc, "team") || hasLinkMatching(doc, "people") || hasLinkMatching(doc, "leadership")

	normalized := scoring.Clip(0.2*float64(profiles), 0, 0.8)
	if teamPage {
		normalized = scoring.Clip(normalized+0.2, 0, 1)
	}

	confidence := 0.5
	if profiles == 0 && !teamPage {
		// Absence of any verifiable people is itself a meaningful signal.
		confidence = 0.7
	}

	raw := fmt.Sprintf("profile_links=%d team_page=%t", profiles, teamPage)
	return record(websiteSourceID, types.DimEmployeeCredibility, raw, normalized, confidence, 0)
}

func hasLinkMatching(doc *goquery.Document, needle string) bool {
	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		text := strings.ToLower(sel.Text() + " " + href)
		if strings.Contains(text, needle) {
			found = true
			return false
		}
		return true
	})
	return found
}

// Close releases the source's transport.
func (w *WebsiteSource) Close() error {
	return w.client.Close()
}
