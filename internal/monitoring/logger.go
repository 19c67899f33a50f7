package monitoring

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger provides enhanced structured logging with context
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new enhanced logger
func NewLogger() *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "timestamp",
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// RequestLogger logs HTTP request details
func (l *Logger) RequestLogger(method, path, ip string, statusCode int, duration time.Duration) {
	l.Info("HTTP Request",
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// CollectionLogger logs an evidence collection round
func (l *Logger) CollectionLogger(roundID, subject string, expected, obtained int, duration time.Duration) {
	l.Info("Collection Round Completed",
		"round_id", roundID,
		"subject", subject,
		"expected_records", expected,
		"obtained_records", obtained,
		"duration_ms", duration.Milliseconds(),
	)
}

// ScoreLogger logs a computed trust score
func (l *Logger) ScoreLogger(subject, ruleSet string, composite, confidence float64, lowConfidence bool) {
	l.Info("Trust Score Computed",
		"subject", subject,
		"rule_set", ruleSet,
		"composite", composite,
		"confidence", confidence,
		"low_confidence", lowConfidence,
	)
}

// ExecutionLogger logs a sandboxed execution outcome
func (l *Logger) ExecutionLogger(id, language, mode, status string, exitCode int, duration time.Duration) {
	l.Info("Execution Completed",
		"execution_id", id,
		"language", language,
		"mode", mode,
		"status", status,
		"exit_code", exitCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// SourceLogger logs an evidence source fetch
func (l *Logger) SourceLogger(sourceID, subject, dimension string, duration time.Duration, success bool) {
	level := slog.LevelDebug
	if !success {
		level = slog.LevelWarn
	}

	l.Log(context.Background(), level, "Source Fetch",
		"source_id", sourceID,
		"subject", subject,
		"dimension", dimension,
		"duration_ms", duration.Milliseconds(),
		"success", success,
	)
}

// CacheLogger logs cache operations
func (l *Logger) CacheLogger(operation, key string, hit bool) {
	l.Debug("Cache Operation",
		"operation", operation,
		"key", key,
		"hit", hit,
	)
}
