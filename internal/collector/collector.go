// Package collector fans one collection round out across every configured
// evidence source concurrently. Sources fail independently: a dead or slow
// provider costs its records, never the round.
package collector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spectrascout/trustcore/internal/cache"
	apperrors "github.com/spectrascout/trustcore/internal/errors"
	"github.com/spectrascout/trustcore/internal/monitoring"
	"github.com/spectrascout/trustcore/internal/resilience"
	"github.com/spectrascout/trustcore/internal/sources"
	"github.com/spectrascout/trustcore/internal/types"
)

// Config bounds one collection round.
type Config struct {
	// MinCoverage is the minimum fraction of expected records a round must
	// obtain. Below it the round fails with InsufficientEvidence instead of
	// silently returning a sparse set.
	MinCoverage float64

	// RoundTimeout caps the whole round.
	RoundTimeout time.Duration

	// MaxConcurrent bounds in-flight fetches.
	MaxConcurrent int
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		MinCoverage:   0.40,
		RoundTimeout:  15 * time.Second,
		MaxConcurrent: 10,
	}
}

// Collector issues one fetch per (source, dimension) pair concurrently and
// merges the results into an EvidenceSet.
type Collector struct {
	registry *sources.Registry
	cache    *cache.EvidenceCache
	metrics  *monitoring.Metrics
	logger   *monitoring.Logger
	cfg      Config
}

// New creates a collector. cache may be nil to disable memoization.
func New(registry *sources.Registry, evCache *cache.EvidenceCache, metrics *monitoring.Metrics, logger *monitoring.Logger, cfg Config) *Collector {
	if cfg.MinCoverage <= 0 {
		cfg.MinCoverage = 0.40
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = 15 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}

	return &Collector{
		registry: registry,
		cache:    evCache,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// fetchTask is one (source, dimension) pair scheduled this round.
type fetchTask struct {
	source    sources.EvidenceSource
	dimension types.Dimension
}

// Collect runs one round for the subject across the requested dimensions
// (all of them when dims is empty).
func (c *Collector) Collect(ctx context.Context, subject string, dims []types.Dimension) (types.EvidenceSet, error) {
	if len(dims) == 0 {
		dims = types.AllDimensions
	}

	var tasks []fetchTask
	for _, dim := range dims {
		for _, src := range c.registry.ForDimension(dim) {
			tasks = append(tasks, fetchTask{source: src, dimension: dim})
		}
	}

	roundID := uuid.NewString()
	start := time.Now()

	if len(tasks) == 0 {
		return types.EvidenceSet{}, apperrors.NewInsufficientEvidenceError(0, 0, c.cfg.MinCoverage)
	}

	roundCtx, cancel := context.WithTimeout(ctx, c.cfg.RoundTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		records []types.EvidenceRecord
	)

	g, gctx := errgroup.WithContext(roundCtx)
	g.SetLimit(c.cfg.MaxConcurrent)

	for _, task := range tasks {
		g.Go(func() error {
			rec, err := c.fetchOne(gctx, task, subject)

			success := err == nil
			if c.metrics != nil {
				c.metrics.RecordSourceFetch(task.source.ID(), success)
			}
			if c.logger != nil {
				c.logger.SourceLogger(task.source.ID(), subject, string(task.dimension), time.Since(start), success)
			}

			if err != nil {
				// Fault isolation: a failed fetch yields no record, it does
				// not abort the round.
				return nil
			}

			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
	}

	// Fetch errors are swallowed above; Wait only reports group context
	// errors, which the caller's cancellation already explains.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return types.EvidenceSet{}, err
	}

	records = dedupe(records)

	set := types.EvidenceSet{
		RoundID:     roundID,
		Subject:     subject,
		Records:     records,
		Expected:    len(tasks),
		CollectedAt: time.Now().UTC(),
	}

	if c.logger != nil {
		c.logger.CollectionLogger(roundID, subject, set.Expected, len(records), time.Since(start))
	}

	if set.Coverage() < c.cfg.MinCoverage {
		if c.metrics != nil {
			c.metrics.IncrementInsufficientEvidence()
		}
		return types.EvidenceSet{}, apperrors.NewInsufficientEvidenceError(len(records), len(tasks), c.cfg.MinCoverage)
	}

	if c.metrics != nil {
		c.metrics.IncrementCollectionRound()
	}
	return set, nil
}

// fetchOne executes a single fetch through the cache (single-flight per
// key) with one retry for transient source failures.
func (c *Collector) fetchOne(ctx context.Context, task fetchTask, subject string) (types.EvidenceRecord, error) {
	fetch := func() (types.EvidenceRecord, error) {
		var rec types.EvidenceRecord

		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = 2

		err := resilience.RetryWithConfig(ctx, retryCfg, func() error {
			var err error
			rec, err = task.source.Fetch(ctx, subject, task.dimension)
			return err
		})
		return rec, err
	}

	if c.cache == nil {
		return fetch()
	}

	key := cache.Key(task.source.ID(), subject, task.dimension)
	rec, hit, err := c.cache.GetOrFetch(key, fetch)

	if c.metrics != nil && err == nil {
		if hit {
			c.metrics.IncrementCacheHit()
		} else {
			c.metrics.IncrementCacheMiss()
		}
	}
	return rec, err
}

// dedupe keeps the most recent record per (source, dimension). Sources
// complete in arbitrary order, so the result is sorted for stable output.
func dedupe(records []types.EvidenceRecord) []types.EvidenceRecord {
	type key struct {
		source    string
		dimension types.Dimension
	}

	newest := make(map[key]types.EvidenceRecord, len(records))
	for _, rec := range records {
		k := key{source: rec.SourceID, dimension: rec.Dimension}
		if prev, ok := newest[k]; !ok || rec.FetchedAt.After(prev.FetchedAt) {
			newest[k] = rec
		}
	}

	out := make([]types.EvidenceRecord, 0, len(newest))
	for _, rec := range newest {
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}
