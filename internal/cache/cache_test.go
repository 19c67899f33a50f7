package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrascout/trustcore/internal/types"
)

func testRecord(normalized float64) types.EvidenceRecord {
	return types.EvidenceRecord{
		SourceID:   "github",
		Dimension:  types.DimRepoActivity,
		Normalized: normalized,
		Confidence: 0.8,
		FetchedAt:  time.Now(),
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "github|acme-corp|repo_activity",
		Key("github", "acme-corp", types.DimRepoActivity))
}

func TestGetOrFetchCachesResult(t *testing.T) {
	c := NewEvidenceCache(16, time.Minute)

	var calls int64
	fetch := func() (types.EvidenceRecord, error) {
		atomic.AddInt64(&calls, 1)
		return testRecord(0.7), nil
	}

	rec, hit, err := c.GetOrFetch("k", fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0.7, rec.Normalized)

	rec, hit, err = c.GetOrFetch("k", fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 0.7, rec.Normalized)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.Equal(t, 1, c.Len())
}

func TestGetOrFetchNeverCachesErrors(t *testing.T) {
	c := NewEvidenceCache(16, time.Minute)

	var calls int64
	failing := func() (types.EvidenceRecord, error) {
		atomic.AddInt64(&calls, 1)
		return types.EvidenceRecord{}, assert.AnError
	}

	_, _, err := c.GetOrFetch("k", failing)
	require.Error(t, err)

	// The next caller retries instead of seeing a cached failure.
	_, _, err = c.GetOrFetch("k", failing)
	require.Error(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
	assert.Equal(t, 0, c.Len())
}

func TestGetOrFetchExpiry(t *testing.T) {
	c := NewEvidenceCache(16, 50*time.Millisecond)

	var calls int64
	fetch := func() (types.EvidenceRecord, error) {
		atomic.AddInt64(&calls, 1)
		return testRecord(0.7), nil
	}

	_, _, err := c.GetOrFetch("k", fetch)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	_, hit, err := c.GetOrFetch("k", fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	c := NewEvidenceCache(16, time.Minute)

	var calls int64
	slowFetch := func() (types.EvidenceRecord, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		return testRecord(0.7), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, _, err := c.GetOrFetch("k", slowFetch)
			assert.NoError(t, err)
			assert.Equal(t, 0.7, rec.Normalized)
		}()
	}
	wg.Wait()

	// All ten concurrent callers share one fetch.
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	// Followers of the shared flight count as hits, not misses.
	stats := c.Stats()
	hits := stats["hits"].(int64)
	misses := stats["misses"].(int64)
	assert.Equal(t, int64(10), hits+misses)
	assert.LessOrEqual(t, misses, int64(1))
}

func TestInvalidate(t *testing.T) {
	c := NewEvidenceCache(16, time.Minute)

	_, _, err := c.GetOrFetch("k", func() (types.EvidenceRecord, error) {
		return testRecord(0.7), nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	c.Invalidate("k")
	assert.Equal(t, 0, c.Len())
}

func TestStats(t *testing.T) {
	c := NewEvidenceCache(16, time.Minute)

	fetch := func() (types.EvidenceRecord, error) {
		return testRecord(0.7), nil
	}
	_, _, _ = c.GetOrFetch("k", fetch)
	_, _, _ = c.GetOrFetch("k", fetch)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
	assert.Equal(t, 1, stats["entries"])
}
