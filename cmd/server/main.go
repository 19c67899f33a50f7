package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/spectrascout/trustcore/internal/cache"
	"github.com/spectrascout/trustcore/internal/collector"
	"github.com/spectrascout/trustcore/internal/errors"
	"github.com/spectrascout/trustcore/internal/executor"
	"github.com/spectrascout/trustcore/internal/monitoring"
	"github.com/spectrascout/trustcore/internal/ratelimit"
	"github.com/spectrascout/trustcore/internal/sandbox"
	"github.com/spectrascout/trustcore/internal/scoring"
	"github.com/spectrascout/trustcore/internal/sources"
	"github.com/spectrascout/trustcore/internal/store"
	"github.com/spectrascout/trustcore/internal/types"
)

func main() {
	// .env is optional; real deployments configure through the environment
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Configuration from environment with defaults
	port := getEnvOrDefault("PORT", "8080")
	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	sandboxDir := getEnvOrDefault("SANDBOX_WORK_DIR", "/tmp/trustcore-sandbox")
	githubAPIURL := getEnvOrDefault("GITHUB_API_URL", "https://api.github.com")
	githubToken := os.Getenv("GITHUB_TOKEN")
	searchAPIURL := os.Getenv("SEARCH_API_URL")
	reviewsAPIURL := os.Getenv("REVIEWS_API_URL")
	cacheTTL := getEnvDuration("EVIDENCE_CACHE_TTL", time.Hour)
	cacheSize := getEnvInt("EVIDENCE_CACHE_SIZE", 4096)

	appMetrics := monitoring.NewMetrics()
	appLogger := monitoring.NewLogger()

	// Persistence
	db, err := store.NewDB(dataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := store.NewRepository(db)
	storeService := store.NewService(repo, appLogger)

	// Evidence sources. GitHub and the website scrape are always on; the
	// search and review sources join the registry only when configured.
	registry := sources.NewRegistry(
		sources.NewGitHubSource(githubAPIURL, githubToken, sources.DefaultFetchCeiling),
		sources.NewWebsiteSource("https", sources.DefaultFetchCeiling),
	)

	if searchAPIURL != "" {
		registry.Register(sources.NewWebSearchSource(searchAPIURL, sources.DefaultFetchCeiling))
	} else {
		slog.Warn("SEARCH_API_URL not set, web search evidence disabled")
	}

	if reviewsAPIURL != "" {
		registry.Register(sources.NewReviewSource(reviewsAPIURL, sources.DefaultFetchCeiling))
	} else {
		slog.Warn("REVIEWS_API_URL not set, review evidence disabled")
	}

	// Evidence pipeline
	evidenceCache := cache.NewEvidenceCache(cacheSize, cacheTTL)
	evidenceCollector := collector.New(registry, evidenceCache, appMetrics, appLogger, collector.DefaultConfig())
	engine := scoring.NewEngine(scoring.NewRuleSetRegistry())

	// Sandbox. A host that cannot isolate must not come up.
	isolator := sandbox.NewProcessIsolator(sandboxDir, sandbox.DefaultRuntimes())
	if err := isolator.Probe(context.Background()); err != nil {
		slog.Error("Sandbox probe failed", "error", err)
		os.Exit(1)
	}
	if !isolator.NetworkIsolation() {
		if getEnvOrDefault("REQUIRE_NET_ISOLATION", "false") == "true" {
			slog.Error("Network namespaces unavailable and REQUIRE_NET_ISOLATION is set")
			os.Exit(1)
		}
		slog.Warn("Network namespaces unavailable, sandboxed runs are only environment-scrubbed")
	}

	sb := sandbox.New(isolator, sandbox.DefaultConfig(), appMetrics, appLogger)
	orchestrator := executor.NewOrchestrator(sb, appLogger)

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.ScoreLimitPerMin = getEnvInt("RATE_LIMIT_SCORE_PER_MIN", limiterCfg.ScoreLimitPerMin)
	limiterCfg.ExecLimitPerMin = getEnvInt("RATE_LIMIT_EXEC_PER_MIN", limiterCfg.ExecLimitPerMin)
	limiter := ratelimit.NewRateLimiter(limiterCfg, appMetrics)

	r := setupRouter(&dependencies{
		registry:     registry,
		collector:    evidenceCollector,
		engine:       engine,
		store:        storeService,
		orchestrator: orchestrator,
		isolator:     isolator,
		cache:        evidenceCache,
		db:           db,
		limiter:      limiter,
		metrics:      appMetrics,
		logger:       appLogger,
		corsOrigins:  strings.Split(getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"), ","),
	})
	// Prune execution audit rows daily
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			pruned, err := storeService.PruneExecutions(90 * 24 * time.Hour)
			if err != nil {
				slog.Error("Failed to prune executions", "error", err)
				continue
			}
			if pruned > 0 {
				slog.Info("Pruned execution audit rows", "count", pruned)
			}
		}
	}()

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, src := range registry.All() {
		if closer, ok := src.(interface{ Close() error }); ok {
			errors.SafeClose(closer, src.ID())
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

// dependencies collects everything the router needs. Tests build their own.
type dependencies struct {
	registry     *sources.Registry
	collector    *collector.Collector
	engine       *scoring.Engine
	store        *store.Service
	orchestrator *executor.Orchestrator
	isolator     *sandbox.ProcessIsolator
	cache        *cache.EvidenceCache
	db           *store.DB
	limiter      *ratelimit.RateLimiter
	metrics      *monitoring.Metrics
	logger       *monitoring.Logger
	corsOrigins  []string
}

// setupRouter wires the middleware chain and every route.
func setupRouter(d *dependencies) *gin.Engine {
	r := gin.New()
	r.Use(monitoring.MonitoringMiddleware(d.metrics, d.logger))
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  d.corsOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"timestamp":         time.Now().Format(time.RFC3339),
			"version":           "1.0.0",
			"sources":           len(d.registry.All()),
			"live_executions":   d.isolator.LiveHandles(),
			"network_isolation": d.isolator.NetworkIsolation(),
		})
	})

	r.GET("/metrics", func(c *gin.Context) {
		snapshot := d.metrics.Snapshot()
		snapshot["cache"] = d.cache.Stats()
		snapshot["rate_limiter"] = d.limiter.GetStats()
		snapshot["db_pool"] = d.db.GetPoolStats()
		c.JSON(http.StatusOK, snapshot)
	})

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")

	scoreRoutes := api.Group("/")
	scoreRoutes.Use(ratelimit.Middleware(d.limiter.AllowScore, d.metrics))

	scoreRoutes.POST("/score", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		var req types.ScoreRequest
		if err := c.BindJSON(&req); err != nil {
			respondError(c, errors.NewValidationError("invalid request body"))
			return
		}

		req.Subject = strings.TrimSpace(req.Subject)
		if req.Subject == "" {
			respondError(c, errors.NewValidationError("subject cannot be empty"))
			return
		}

		dims, appErr := parseDimensions(req.Dimensions)
		if appErr != nil {
			respondError(c, appErr)
			return
		}

		set, err := d.collector.Collect(ctx, req.Subject, dims)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}

		score, err := d.engine.Score(set, req.RuleSet)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}

		d.metrics.RecordScore(score.LowConfidence)
		d.logger.ScoreLogger(score.Subject, score.RuleSetVersion, score.Composite, score.Confidence, score.LowConfidence)

		// Persistence is audit-only; the response does not wait on it
		if err := d.store.RecordScore(score); err != nil {
			slog.Warn("Score persisted with error", "subject", score.Subject, "error", err)
		}

		c.JSON(http.StatusOK, gin.H{
			"score":    score,
			"round_id": set.RoundID,
			"coverage": set.Coverage(),
		})
	})

	scoreRoutes.GET("/scores/:subject", func(c *gin.Context) {
		subject := strings.TrimSpace(c.Param("subject"))
		if subject == "" {
			respondError(c, errors.NewValidationError("subject cannot be empty"))
			return
		}

		limit := 20
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}

		history, err := d.store.ScoreHistory(subject, limit)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"subject": subject,
			"scores":  history,
		})
	})

	execRoutes := api.Group("/")
	execRoutes.Use(ratelimit.Middleware(d.limiter.AllowExecution, d.metrics))

	execRoutes.POST("/debug", func(c *gin.Context) {
		var req types.DebugRequest
		if err := c.BindJSON(&req); err != nil {
			respondError(c, errors.NewValidationError("invalid request body"))
			return
		}

		result, err := d.orchestrator.Debug(c.Request.Context(), req.Code, req.Language)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}

		_ = d.store.RecordExecution(result, req.Language, types.ModeDebug, req.Code)

		c.JSON(http.StatusOK, result)
	})

	execRoutes.POST("/run", func(c *gin.Context) {
		var req types.RunRequest
		if err := c.BindJSON(&req); err != nil {
			respondError(c, errors.NewValidationError("invalid request body"))
			return
		}

		var limits types.ResourceLimits
		if req.Limits != nil {
			limits = *req.Limits
		}

		result, err := d.orchestrator.Run(c.Request.Context(), req.Code, req.Language, limits)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}

		_ = d.store.RecordExecution(result, req.Language, types.ModeRun, req.Code)

		c.JSON(http.StatusOK, result)
	})

	return r
}

// parseDimensions validates requested dimension names; an empty request
// means every dimension.
func parseDimensions(raw []string) ([]types.Dimension, *errors.AppError) {
	if len(raw) == 0 {
		return types.AllDimensions, nil
	}

	dims := make([]types.Dimension, 0, len(raw))
	for _, s := range raw {
		dim, ok := types.ParseDimension(strings.TrimSpace(s))
		if !ok {
			return nil, errors.NewValidationError("unknown dimension: " + s)
		}
		dims = append(dims, dim)
	}
	return dims, nil
}

func respondError(c *gin.Context, appErr *errors.AppError) {
	errors.LogError(c, appErr)
	c.JSON(appErr.HTTPStatus, gin.H{
		"error":    appErr.ErrBuilder.Msg,
		"category": appErr.Category,
	})
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
