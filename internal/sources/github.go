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

const githubSourceID = "github"

// Baselines for robust normalization of raw GitHub counts. These play the
// role of per-domain calibration samples: a subject is scored against what a
// credible small-to-mid company org typically shows.
var (
	githubStarsBaseline     = []float64{0, 5, 20, 80, 250, 900, 3000}
	githubFollowersBaseline = []float64{0, 10, 40, 150, 500, 2000}
	githubFreshRepoBaseline = []float64{0, 1, 3, 6, 12, 25}
)

// githubRepo is the subset of the repository payload the source reads.
type githubRepo struct {
	Name            string    `json:"name"`
	StargazersCount int       `json:"stargazers_count"`
	ForksCount      int       `json:"forks_count"`
	Fork            bool      `json:"fork"`
	PushedAt        time.Time `json:"pushed_at"`
}

// githubAccount is the subset of the user/org payload the source reads.
type githubAccount struct {
	Login       string `json:"login"`
	Followers   int    `json:"followers"`
	PublicRepos int    `json:"public_repos"`
}

// GitHubSource reports repo_activity and contributor_quality from an
// organization's public repository metadata.
type GitHubSource struct {
	baseURL string
	token   string
	ceiling time.Duration
	client  *resilience.HTTPClient
}

// NewGitHubSource creates a GitHub evidence source. baseURL defaults to the
// public API; tests point it at a fake.
func NewGitHubSource(baseURL, token string, ceiling time.Duration) *GitHubSource {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	})

	return &GitHubSource{
		baseURL: baseURL,
		token:   token,
		ceiling: ceiling,
		client:  resilience.NewHTTPClient(githubSourceID, resilience.DefaultHTTPClientConfig(), breaker),
	}
}

func (g *GitHubSource) ID() string { return githubSourceID }

func (g *GitHubSource) Dimensions() []types.Dimension {
	return []types.Dimension{types.DimRepoActivity, types.DimContributorQuality}
}

// Fetch implements EvidenceSource.
func (g *GitHubSource) Fetch(ctx context.Context, subject string, dimension types.Dimension) (types.EvidenceRecord, error) {
	ctx, cancel := withCeiling(ctx, g.ceiling)
	defer cancel()

	switch dimension {
	case types.DimRepoActivity:
		return g.fetchRepoActivity(ctx, subject)
	case types.DimContributorQuality:
		return g.fetchContributorQuality(ctx, subject)
	default:
		return types.EvidenceRecord{}, apperrors.NewValidationError(
			fmt.Sprintf("github source does not report %s", dimension))
	}
}

func (g *GitHubSource) fetchRepoActivity(ctx context.Context, subject string) (types.EvidenceRecord, error) {
	endpoint := fmt.Sprintf("%s/orgs/%s/repos?per_page=50&sort=pushed", g.baseURL, url.PathEscape(subject))

	var repos []githubRepo
	if err := g.getJSON(ctx, endpoint, &repos); err != nil {
		return types.EvidenceRecord{}, err
	}

	var stars, forks, fresh int
	var latestPush time.Time
	cutoff := time.Now().AddDate(0, -3, 0)

	for _, repo := range repos {
		if repo.Fork {
			continue
		}
		stars += repo.StargazersCount
		forks += repo.ForksCount
		if repo.PushedAt.After(cutoff) {
			fresh++
		}
		if repo.PushedAt.After(latestPush) {
			latestPush = repo.PushedAt
		}
	}

	// Blend engagement with recency: an org full of stale archives scores
	// lower than a smaller but active one.
	engagement := scoring.NormalizeCount(float64(stars+forks), githubStarsBaseline)
	recency := scoring.NormalizeCount(float64(fresh), githubFreshRepoBaseline)
	normalized := 0.6*engagement + 0.4*recency

	staleness := time.Duration(0)
	if !latestPush.IsZero() {
		staleness = time.Since(latestPush)
	}

	confidence := scoring.Clip(0.4+0.05*float64(len(repos)), 0, 0.9)
	confidence = scoring.StalenessConfidence(confidence, staleness, 24*time.Hour*365)

	raw := fmt.Sprintf("repos=%d stars=%d forks=%d fresh=%d", len(repos), stars, forks, fresh)
	return record(githubSourceID, types.DimRepoActivity, raw, normalized, confidence, staleness), nil
}

func (g *GitHubSource) fetchContributorQuality(ctx context.Context, subject string) (types.EvidenceRecord, error) {
	endpoint := fmt.Sprintf("%s/users/%s", g.baseURL, url.PathEscape(subject))

	var account githubAccount
	if err := g.getJSON(ctx, endpoint, &account); err != nil {
		return types.EvidenceRecord{}, err
	}

	normalized := scoring.NormalizeCount(float64(account.Followers), githubFollowersBaseline)

	// A profile with no public repos says little about contributor quality.
	confidence := 0.7
	if account.PublicRepos == 0 {
		confidence = 0.3
	}

	raw := fmt.Sprintf("followers=%d public_repos=%d", account.Followers, account.PublicRepos)
	return record(githubSourceID, types.DimContributorQuality, raw, normalized, confidence, 0), nil
}

// getJSON performs one API call and decodes the body, classifying failures
// into the source error taxonomy.
func (g *GitHubSource) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	headers := map[string]string{
		"Accept":     "application/vnd.github.v3+json",
		"User-Agent": "trustcore/1.0",
	}
	if g.token != "" {
		headers["Authorization"] = "Bearer " + g.token
	}

	resp, err := g.client.DoRequest(ctx, http.MethodGet, endpoint, headers)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewSourceTimeoutError(githubSourceID, g.ceiling, err)
		}
		return apperrors.NewSourceUnavailableError(githubSourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewSourceUnavailableError(githubSourceID,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewSourceMalformedError(githubSourceID, err)
	}
	return nil
}

// Close releases the source's transport.
func (g *GitHubSource) Close() error {
	return g.client.Close()
}
