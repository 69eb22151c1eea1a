package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/lookalike/internal/model"
)

// CreateRun records the start of a training run.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *model.Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(run); err != nil {
		return err
	}

	classes, err := json.Marshal(run.Classes)
	if err != nil {
		return fmt.Errorf("failed to encode classes: %w", err)
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to encode hyperparameters: %w", err)
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, status, train_dir, val_dir, checkpoint_path, device,
				classes, params, error, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, string(run.Status), run.TrainDir, run.ValDir, run.CheckpointPath, run.Device,
			string(classes), string(params), run.Error, run.StartedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		return nil
	})
}

// RecordEpoch stores the metrics of one finished epoch. Recording the same
// epoch twice replaces the earlier row.
func (s *SQLiteStorage) RecordEpoch(ctx context.Context, runID string, m model.EpochMetrics) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(runID, "runID"); err != nil {
		return err
	}
	if err := validateEpoch(m); err != nil {
		return err
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO epoch_metrics (run_id, epoch, loss, accuracy, samples, batches,
				skipped, duration_ms, has_validation, val_loss, val_accuracy, val_samples)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, m.Epoch, m.Loss, m.Accuracy, m.Samples, m.Batches,
			m.Skipped, m.Duration.Milliseconds(), m.HasValidation, m.ValLoss, m.ValAccuracy, m.ValSamples,
		)
		if err != nil {
			return fmt.Errorf("failed to insert epoch %d: %w", m.Epoch, err)
		}
		return nil
	})
}

// FinishRun stores the terminal status and final metrics of run.
func (s *SQLiteStorage) FinishRun(ctx context.Context, run *model.Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if err := validateStatus(run.Status); err != nil {
		return err
	}

	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE runs
			SET status = ?, final_loss = ?, final_accuracy = ?, error = ?, finished_at = ?
			WHERE id = ?`,
			string(run.Status), run.FinalLoss, run.FinalAccuracy, run.Error, finished, run.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check updated rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
		}
		return nil
	})
}

// GetRun returns the run with the given ID together with its epochs.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, runColumns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	epochs, err := s.getEpochs(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Epochs = epochs
	return run, nil
}

// ListRuns returns up to limit runs, newest first, without epoch detail. A
// limit below 1 returns every run.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := runColumns + ` ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

const runColumns = `
	SELECT id, status, train_dir, val_dir, checkpoint_path, device, classes, params,
		final_loss, final_accuracy, error, started_at, finished_at
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var (
		run      model.Run
		status   string
		classes  string
		params   string
		valDir   sql.NullString
		runErr   sql.NullString
		finished sql.NullTime
	)
	err := row.Scan(
		&run.ID, &status, &run.TrainDir, &valDir, &run.CheckpointPath, &run.Device,
		&classes, &params, &run.FinalLoss, &run.FinalAccuracy, &runErr, &run.StartedAt, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = model.RunStatus(status)
	run.ValDir = valDir.String
	run.Error = runErr.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(classes), &run.Classes); err != nil {
		return nil, fmt.Errorf("failed to decode classes of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("failed to decode hyperparameters of run %s: %w", run.ID, err)
	}
	return &run, nil
}

func (s *SQLiteStorage) getEpochs(ctx context.Context, runID string) ([]model.EpochMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, loss, accuracy, samples, batches, skipped, duration_ms,
			has_validation, val_loss, val_accuracy, val_samples
		FROM epoch_metrics
		WHERE run_id = ?
		ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var epochs []model.EpochMetrics
	for rows.Next() {
		var (
			m          model.EpochMetrics
			durationMS int64
		)
		if err := rows.Scan(&m.Epoch, &m.Loss, &m.Accuracy, &m.Samples, &m.Batches, &m.Skipped, &durationMS,
			&m.HasValidation, &m.ValLoss, &m.ValAccuracy, &m.ValSamples); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		m.Duration = time.Duration(durationMS) * time.Millisecond
		epochs = append(epochs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating epochs: %w", err)
	}
	return epochs, nil
}
