package store

import (
	"database/sql"
	"fmt"
)

// Repository handles database operations for scores and executions.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveScore persists one score record.
func (r *Repository) SaveScore(rec *ScoreRecord) error {
	stmt, err := r.db.GetPreparedStatement("insert_score")
	if err != nil {
		return err
	}

	_, err = stmt.Exec(rec.ID, rec.Subject, rec.Composite, rec.Confidence,
		rec.RuleSetVersion, rec.LowConfidence, rec.HighRisk, rec.Breakdown, rec.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}

	return nil
}

// GetScoresBySubject returns the most recent scores for a subject, newest
// first.
func (r *Repository) GetScoresBySubject(subject string, limit int) ([]ScoreRecord, error) {
	stmt, err := r.db.GetPreparedStatement("get_scores_by_subject")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var records []ScoreRecord
	for rows.Next() {
		var rec ScoreRecord
		if err := rows.Scan(&rec.ID, &rec.Subject, &rec.Composite, &rec.Confidence,
			&rec.RuleSetVersion, &rec.LowConfidence, &rec.HighRisk, &rec.Breakdown,
			&rec.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score row: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SaveExecution persists one execution audit record.
func (r *Repository) SaveExecution(rec *ExecutionRecord) error {
	stmt, err := r.db.GetPreparedStatement("insert_execution")
	if err != nil {
		return err
	}

	_, err = stmt.Exec(rec.ID, rec.Language, rec.Mode, rec.CodeHash, rec.Status,
		rec.ExitCode, rec.DurationMS, rec.StdoutTruncated, rec.StderrTruncated, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetExecution returns the audit record for one execution ID.
func (r *Repository) GetExecution(id string) (*ExecutionRecord, error) {
	stmt, err := r.db.GetPreparedStatement("get_execution")
	if err != nil {
		return nil, err
	}

	var rec ExecutionRecord
	err = stmt.QueryRow(id).Scan(&rec.ID, &rec.Language, &rec.Mode, &rec.CodeHash,
		&rec.Status, &rec.ExitCode, &rec.DurationMS, &rec.StdoutTruncated,
		&rec.StderrTruncated, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return &rec, nil
}
