package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/lookalike/internal/model"
)

// SaveEvaluation records an evaluation pass and sets its ID.
func (s *SQLiteStorage) SaveEvaluation(ctx context.Context, e *model.Evaluation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEvaluation(e); err != nil {
		return err
	}

	confusion, err := json.Marshal(e.Confusion)
	if err != nil {
		return fmt.Errorf("failed to encode confusion matrix: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var runID sql.NullString
	if e.RunID != "" {
		runID = sql.NullString{String: e.RunID, Valid: true}
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO evaluations (run_id, checkpoint_path, val_dir, plot_path, accuracy,
				samples, confusion, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, e.CheckpointPath, e.ValDir, e.PlotPath, e.Accuracy,
			e.Samples, string(confusion), e.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert evaluation: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read evaluation id: %w", err)
		}
		e.ID = id
		return nil
	})
}

// ListEvaluations returns evaluations newest first. An empty runID returns
// the evaluations of every run.
func (s *SQLiteStorage) ListEvaluations(ctx context.Context, runID string) ([]model.Evaluation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, run_id, checkpoint_path, val_dir, plot_path, accuracy, samples, confusion, created_at
		FROM evaluations`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var evals []model.Evaluation
	for rows.Next() {
		var (
			e         model.Evaluation
			run       sql.NullString
			plot      sql.NullString
			confusion string
		)
		if err := rows.Scan(&e.ID, &run, &e.CheckpointPath, &e.ValDir, &plot, &e.Accuracy,
			&e.Samples, &confusion, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		e.RunID = run.String
		e.PlotPath = plot.String
		if err := json.Unmarshal([]byte(confusion), &e.Confusion); err != nil {
			return nil, fmt.Errorf("failed to decode confusion matrix of evaluation %d: %w", e.ID, err)
		}
		evals = append(evals, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}
	return evals, nil
}
