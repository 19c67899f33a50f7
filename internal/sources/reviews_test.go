package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrascout/trustcore/internal/errors"
	"github.com/spectrascout/trustcore/internal/types"
)

func reviewServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/companies/acme-corp/summary", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestReviewSourceRatingNormalization(t *testing.T) {
	srv := reviewServer(t, `{"rating": 4.0, "rating_scale": 5, "review_count": 400}`)
	defer srv.Close()

	src := NewReviewSource(srv.URL, time.Second)
	defer src.Close()

	rec, err := src.Fetch(context.Background(), "acme-corp", types.DimReviewSentiment)
	require.NoError(t, err)

	assert.Equal(t, "reviews", rec.SourceID)
	assert.Equal(t, types.DimReviewSentiment, rec.Dimension)
	assert.InDelta(t, 0.8, rec.Normalized, 1e-9)
	assert.Equal(t, "rating=4.00/5 reviews=400", rec.RawValue)
	// 400 reviews sits at the top of the volume baseline.
	assert.Greater(t, rec.Confidence, 0.9)
}

func TestReviewSourceTenPointScale(t *testing.T) {
	srv := reviewServer(t, `{"rating": 7.5, "rating_scale": 10, "review_count": 100}`)
	defer srv.Close()

	src := NewReviewSource(srv.URL, time.Second)
	defer src.Close()

	rec, err := src.Fetch(context.Background(), "acme-corp", types.DimReviewSentiment)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, rec.Normalized, 1e-9)
}

func TestReviewSourceDefaultsScaleToFive(t *testing.T) {
	srv := reviewServer(t, `{"rating": 2.5, "review_count": 30}`)
	defer srv.Close()

	src := NewReviewSource(srv.URL, time.Second)
	defer src.Close()

	rec, err := src.Fetch(context.Background(), "acme-corp", types.DimReviewSentiment)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rec.Normalized, 1e-9)
}

func TestReviewSourceFewReviewsLowConfidence(t *testing.T) {
	many := reviewServer(t, `{"rating": 4.0, "rating_scale": 5, "review_count": 400}`)
	defer many.Close()
	few := reviewServer(t, `{"rating": 4.0, "rating_scale": 5, "review_count": 2}`)
	defer few.Close()

	manySrc := NewReviewSource(many.URL, time.Second)
	defer manySrc.Close()
	fewSrc := NewReviewSource(few.URL, time.Second)
	defer fewSrc.Close()

	manyRec, err := manySrc.Fetch(context.Background(), "acme-corp", types.DimReviewSentiment)
	require.NoError(t, err)
	fewRec, err := fewSrc.Fetch(context.Background(), "acme-corp", types.DimReviewSentiment)
	require.NoError(t, err)

	assert.Less(t, fewRec.Confidence, manyRec.Confidence)
	assert.Less(t, fewRec.Confidence, 0.5)
}

func TestReviewSourceStaleSummaryDecaysConfidence(t *testing.T) {
	fresh := time.Now().UTC().Format(time.RFC3339)
	old := time.Now().UTC().Add(-365 * 24 * time.Hour).Format(time.RFC3339)

	freshSrv := reviewServer(t, `{"rating": 4.0, "rating_scale": 5, "review_count": 100, "updated_at": "`+fresh+`"}`)
	defer freshSrv.Close()
	oldSrv := reviewServer(t, `{"rating": 4.0, "rating_scale": 5, "review_count": 100, "updated_at": "`+old+`"}`)
	defer oldSrv.Close()

	freshSrc := NewReviewSource(freshSrv.URL, time.Second)
	defer freshSrc.Close()
	oldSrc := NewReviewSource(oldSrv.URL, time.Second)
	defer oldSrc.Close()

	freshRec, err := freshSrc.Fetch(context.Background(), "acme-corp", types.DimReviewSentiment)
	require.NoError(t, err)
	oldRec, err := oldSrc.Fetch(context.Background(), "acme-corp", types.DimReviewSentiment)
	require.NoError(t, err)

	assert.Less(t, oldRec.Confidence, freshRec.Confidence)
	assert.Greater(t, oldRec.Staleness, 300*24*time.Hour)
}

func TestReviewSourceRatingOutsideScale(t *testing.T) {
	srv := reviewServer(t, `{"rating": 6.1, "rating_scale": 5, "review_count": 10}`)
	defer srv.Close()

	src := NewReviewSource(srv.URL, time.Second)
	defer src.Close()

	_, err := src.Fetch(context.Background(), "acme-corp", types.DimReviewSentiment)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategorySourceMalformed))
}

func TestReviewSourceRejectsForeignDimension(t *testing.T) {
	src := NewReviewSource("http://unused.invalid", time.Second)
	defer src.Close()

	_, err := src.Fetch(context.Background(), "acme-corp", types.DimRepoActivity)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
