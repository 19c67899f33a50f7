package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/spectrascout/trustcore/internal/errors"
	"github.com/spectrascout/trustcore/internal/monitoring"
)

// Config holds rate limiter configuration.
type Config struct {
	ScoreLimitPerMin int // per-client limit on scoring requests
	ExecLimitPerMin  int // per-client limit on debug/run requests
	BurstMultiplier  int
}

// DefaultConfig returns default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		ScoreLimitPerMin: 60,
		ExecLimitPerMin:  30,
		BurstMultiplier:  2,
	}
}

// Result represents the result of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter is a per-client token bucket limiter. This deployment is
// single-node, so all accounting is in-memory.
type RateLimiter struct {
	config  Config
	metrics *monitoring.Metrics

	limiters map[string]*rate.Limiter
	mutex    sync.RWMutex
}

// NewRateLimiter creates a new in-memory rate limiter.
func NewRateLimiter(config Config, metrics *monitoring.Metrics) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		metrics:  metrics,
		limiters: make(map[string]*rate.Limiter),
	}

	go rl.cleanupLimiters()

	return rl
}

// AllowScore checks whether a client may issue another scoring request.
func (rl *RateLimiter) AllowScore(clientID string) *Result {
	key := fmt.Sprintf("score:%s", clientID)
	return rl.allow(key, rl.config.ScoreLimitPerMin, time.Minute)
}

// AllowExecution checks whether a client may issue another debug or run
// request.
func (rl *RateLimiter) AllowExecution(clientID string) *Result {
	key := fmt.Sprintf("exec:%s", clientID)
	return rl.allow(key, rl.config.ExecLimitPerMin, time.Minute)
}

func (rl *RateLimiter) allow(key string, limit int, period time.Duration) *Result {
	rl.mutex.Lock()
	limiter, exists := rl.limiters[key]
	if !exists {
		rps := rate.Limit(float64(limit) / period.Seconds())
		burst := limit * rl.config.BurstMultiplier
		if burst < 5 {
			burst = 5
		}
		limiter = rate.NewLimiter(rps, burst)
		rl.limiters[key] = limiter
	}
	rl.mutex.Unlock()

	allowed := limiter.Allow()

	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(period),
	}

	if !allowed {
		result.RetryAfter = time.Until(result.ResetAt)
	}

	return result
}

// cleanupLimiters bounds the limiter map for long-running processes.
func (rl *RateLimiter) cleanupLimiters() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		rl.mutex.Lock()
		if len(rl.limiters) > 1000 {
			slog.Info("Cleaning up rate limiters", "count", len(rl.limiters))
			rl.limiters = make(map[string]*rate.Limiter)
		}
		rl.mutex.Unlock()
	}
}

// GetStats returns rate limiter statistics.
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.mutex.RLock()
	count := len(rl.limiters)
	rl.mutex.RUnlock()

	return map[string]interface{}{
		"active_limiters":     count,
		"score_limit_per_min": rl.config.ScoreLimitPerMin,
		"exec_limit_per_min":  rl.config.ExecLimitPerMin,
	}
}

// Middleware enforces a limit function on a route group. The check function
// selects the bucket (scoring vs execution) for the route.
func Middleware(check func(clientID string) *Result, metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := check(c.ClientIP())

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))

		if !result.Allowed {
			if metrics != nil {
				metrics.IncrementRateLimited()
			}
			c.Header("Retry-After", fmt.Sprintf("%d", int(result.RetryAfter.Seconds())+1))
			appErr := errors.NewRateLimitError(result.RetryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":    appErr.Error(),
				"category": string(appErr.Category),
			})
			return
		}

		c.Next()
	}
}
