package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/spectrascout/trustcore/internal/types"
)

// ScoreRecord is one persisted trust score computation.
type ScoreRecord struct {
	ID             string    `json:"id" db:"id"`
	Subject        string    `json:"subject" db:"subject"`
	Composite      float64   `json:"composite" db:"composite"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	RuleSetVersion string    `json:"rule_set_version" db:"rule_set_version"`
	LowConfidence  bool      `json:"low_confidence" db:"low_confidence"`
	HighRisk       bool      `json:"high_risk" db:"high_risk"`
	Breakdown      string    `json:"breakdown,omitempty" db:"breakdown"` // JSON
	ComputedAt     time.Time `json:"computed_at" db:"computed_at"`
}

// ExecutionRecord is the audit row for one sandboxed execution. Code is
// stored only as a hash.
type ExecutionRecord struct {
	ID              string    `json:"id" db:"id"`
	Language        string    `json:"language" db:"language"`
	Mode            string    `json:"mode" db:"mode"`
	CodeHash        string    `json:"code_hash" db:"code_hash"`
	Status          string    `json:"status" db:"status"`
	ExitCode        int       `json:"exit_code" db:"exit_code"`
	DurationMS      int64     `json:"duration_ms" db:"duration_ms"`
	StdoutTruncated bool      `json:"stdout_truncated" db:"stdout_truncated"`
	StderrTruncated bool      `json:"stderr_truncated" db:"stderr_truncated"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// NewScoreRecord builds a record from a computed score; the breakdown JSON
// is marshalled by the service.
func NewScoreRecord(score types.TrustScore, breakdownJSON string) *ScoreRecord {
	return &ScoreRecord{
		ID:             uuid.New().String(),
		Subject:        score.Subject,
		Composite:      score.Composite,
		Confidence:     score.Confidence,
		RuleSetVersion: score.RuleSetVersion,
		LowConfidence:  score.LowConfidence,
		HighRisk:       score.HighRisk,
		Breakdown:      breakdownJSON,
		ComputedAt:     score.ComputedAt,
	}
}

// NewExecutionRecord builds an audit record from an execution result.
func NewExecutionRecord(result types.ExecutionResult, language string, mode types.ExecutionMode, code string) *ExecutionRecord {
	return &ExecutionRecord{
		ID:              result.ID,
		Language:        language,
		Mode:            string(mode),
		CodeHash:        HashCode(code),
		Status:          string(result.Status),
		ExitCode:        result.ExitCode,
		DurationMS:      result.DurationMS,
		StdoutTruncated: result.StdoutTruncated,
		StderrTruncated: result.StderrTruncated,
		CreatedAt:       time.Now(),
	}
}

// HashCode returns the hex sha256 of a code artifact.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
