package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application metrics
type Metrics struct {
	RequestCount int64
	ErrorCount   int64
	StartTime    time.Time

	// Evidence pipeline
	CollectionRounds     int64
	CollectionFailures   int64
	SourceFetches        int64
	SourceFailures       int64
	ScoresComputed       int64
	LowConfidenceScores  int64
	InsufficientEvidence int64

	// Cache
	CacheHits   int64
	CacheMisses int64

	// Rate limiting
	RateLimitedRequests int64

	// Sandbox
	ExecutionsStarted int64
	ExecutionsByState map[string]int64
	stateMutex        sync.RWMutex

	// Per-source fetch accounting
	SourceFetchesByID map[string]int64
	SourceErrorsByID  map[string]int64
	sourceMutex       sync.RWMutex
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:         time.Now(),
		ExecutionsByState: make(map[string]int64),
		SourceFetchesByID: make(map[string]int64),
		SourceErrorsByID:  make(map[string]int64),
	}
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementCollectionRound records one completed round
func (m *Metrics) IncrementCollectionRound() {
	atomic.AddInt64(&m.CollectionRounds, 1)
}

// IncrementCollectionFailure records a round that failed outright
func (m *Metrics) IncrementCollectionFailure() {
	atomic.AddInt64(&m.CollectionFailures, 1)
}

// IncrementInsufficientEvidence records a round below the evidence floor
func (m *Metrics) IncrementInsufficientEvidence() {
	atomic.AddInt64(&m.InsufficientEvidence, 1)
}

// RecordSourceFetch records one fetch attempt against a source
func (m *Metrics) RecordSourceFetch(sourceID string, success bool) {
	atomic.AddInt64(&m.SourceFetches, 1)

	m.sourceMutex.Lock()
	m.SourceFetchesByID[sourceID]++
	if !success {
		m.SourceErrorsByID[sourceID]++
	}
	m.sourceMutex.Unlock()

	if !success {
		atomic.AddInt64(&m.SourceFailures, 1)
	}
}

// RecordScore records one computed trust score
func (m *Metrics) RecordScore(lowConfidence bool) {
	atomic.AddInt64(&m.ScoresComputed, 1)
	if lowConfidence {
		atomic.AddInt64(&m.LowConfidenceScores, 1)
	}
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

// IncrementRateLimited increments the rejected-by-rate-limit count
func (m *Metrics) IncrementRateLimited() {
	atomic.AddInt64(&m.RateLimitedRequests, 1)
}

// RecordExecution records one sandbox execution and its terminal status
func (m *Metrics) RecordExecution(status string) {
	atomic.AddInt64(&m.ExecutionsStarted, 1)

	m.stateMutex.Lock()
	m.ExecutionsByState[status]++
	m.stateMutex.Unlock()
}

// Snapshot returns a point-in-time view of all counters
func (m *Metrics) Snapshot() map[string]interface{} {
	m.stateMutex.RLock()
	executions := make(map[string]int64, len(m.ExecutionsByState))
	for k, v := range m.ExecutionsByState {
		executions[k] = v
	}
	m.stateMutex.RUnlock()

	m.sourceMutex.RLock()
	fetches := make(map[string]int64, len(m.SourceFetchesByID))
	for k, v := range m.SourceFetchesByID {
		fetches[k] = v
	}
	sourceErrors := make(map[string]int64, len(m.SourceErrorsByID))
	for k, v := range m.SourceErrorsByID {
		sourceErrors[k] = v
	}
	m.sourceMutex.RUnlock()

	return map[string]interface{}{
		"uptime_seconds":        time.Since(m.StartTime).Seconds(),
		"request_count":         atomic.LoadInt64(&m.RequestCount),
		"error_count":           atomic.LoadInt64(&m.ErrorCount),
		"collection_rounds":     atomic.LoadInt64(&m.CollectionRounds),
		"collection_failures":   atomic.LoadInt64(&m.CollectionFailures),
		"insufficient_evidence": atomic.LoadInt64(&m.InsufficientEvidence),
		"source_fetches":        atomic.LoadInt64(&m.SourceFetches),
		"source_failures":       atomic.LoadInt64(&m.SourceFailures),
		"source_fetches_by_id":  fetches,
		"source_errors_by_id":   sourceErrors,
		"scores_computed":       atomic.LoadInt64(&m.ScoresComputed),
		"low_confidence_scores": atomic.LoadInt64(&m.LowConfidenceScores),
		"cache_hits":            atomic.LoadInt64(&m.CacheHits),
		"cache_misses":          atomic.LoadInt64(&m.CacheMisses),
		"rate_limited_requests": atomic.LoadInt64(&m.RateLimitedRequests),
		"executions_started":    atomic.LoadInt64(&m.ExecutionsStarted),
		"executions_by_status":  executions,
	}
}
