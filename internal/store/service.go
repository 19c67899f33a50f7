package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spectrascout/trustcore/internal/monitoring"
	"github.com/spectrascout/trustcore/internal/types"
)

// Service provides the persistence workflows the handlers call. Failures
// are logged but never block a response: persistence is an audit concern,
// not part of the scoring or execution contract.
type Service struct {
	repo   *Repository
	logger *monitoring.Logger
}

// NewService creates a new store service.
func NewService(repo *Repository, logger *monitoring.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// RecordScore persists a computed trust score with its breakdown.
func (s *Service) RecordScore(score types.TrustScore) error {
	breakdown, err := json.Marshal(score.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	rec := NewScoreRecord(score, string(breakdown))
	if err := s.repo.SaveScore(rec); err != nil {
		s.logger.Error("Failed to persist score", "subject", score.Subject, "error", err)
		return err
	}

	return nil
}

// ScoreHistory returns the persisted scores for a subject, newest first,
// with breakdowns decoded.
func (s *Service) ScoreHistory(subject string, limit int) ([]types.TrustScore, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	records, err := s.repo.GetScoresBySubject(subject, limit)
	if err != nil {
		return nil, err
	}

	scores := make([]types.TrustScore, 0, len(records))
	for _, rec := range records {
		score := types.TrustScore{
			Subject:        rec.Subject,
			Composite:      rec.Composite,
			Confidence:     rec.Confidence,
			RuleSetVersion: rec.RuleSetVersion,
			LowConfidence:  rec.LowConfidence,
			HighRisk:       rec.HighRisk,
			ComputedAt:     rec.ComputedAt,
		}
		if rec.Breakdown != "" {
			if err := json.Unmarshal([]byte(rec.Breakdown), &score.Breakdown); err != nil {
				s.logger.Warn("Skipping undecodable breakdown", "id", rec.ID, "error", err)
			}
		}
		scores = append(scores, score)
	}

	return scores, nil
}

// RecordExecution persists the audit trail for one execution. The artifact
// itself is hashed, never stored.
func (s *Service) RecordExecution(result types.ExecutionResult, language string, mode types.ExecutionMode, code string) error {
	rec := NewExecutionRecord(result, language, mode, code)
	if err := s.repo.SaveExecution(rec); err != nil {
		s.logger.Error("Failed to persist execution", "execution_id", result.ID, "error", err)
		return err
	}

	return nil
}

// Execution returns the audit record for an execution ID, or nil when none
// exists.
func (s *Service) Execution(id string) (*ExecutionRecord, error) {
	return s.repo.GetExecution(id)
}

// PruneExecutions removes audit rows older than the retention window.
func (s *Service) PruneExecutions(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.repo.db.Exec(`DELETE FROM executions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return res.RowsAffected()
}
