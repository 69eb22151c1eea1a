// Package storage provides the run registry: a SQLite record of training runs
// and evaluations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/lookalike/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrInvalidStatus     = errors.New("invalid run status")
	ErrInvalidRun        = errors.New("invalid run")
	ErrInvalidEpoch      = errors.New("invalid epoch metrics")
	ErrInvalidEvaluation = errors.New("invalid evaluation")
	ErrRunNotFound       = errors.New("run not found")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateStatus(status model.RunStatus) error {
	switch status {
	case model.RunStatusRunning,
		model.RunStatusCompleted,
		model.RunStatusFailed,
		model.RunStatusCanceled:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
}

// validateRun validates a run before it is first recorded.
func validateRun(run *model.Run) error {
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRun)
	}
	if run.TrainDir == "" {
		return fmt.Errorf("%w: missing training directory", ErrInvalidRun)
	}
	if run.CheckpointPath == "" {
		return fmt.Errorf("%w: missing checkpoint path", ErrInvalidRun)
	}
	if run.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidRun)
	}
	if run.Classes.Len() == 0 {
		return fmt.Errorf("%w: no classes", ErrInvalidRun)
	}
	return validateStatus(run.Status)
}

func validateEpoch(m model.EpochMetrics) error {
	if m.Epoch < 1 {
		return fmt.Errorf("%w: epoch %d", ErrInvalidEpoch, m.Epoch)
	}
	if m.Accuracy < 0 || m.Accuracy > 1 {
		return fmt.Errorf("%w: accuracy must be between 0 and 1", ErrInvalidEpoch)
	}
	return nil
}

func validateEvaluation(e *model.Evaluation) error {
	if e == nil {
		return fmt.Errorf("%w: evaluation", ErrNilParameter)
	}
	if e.CheckpointPath == "" {
		return fmt.Errorf("%w: missing checkpoint path", ErrInvalidEvaluation)
	}
	if e.ValDir == "" {
		return fmt.Errorf("%w: missing evaluation directory", ErrInvalidEvaluation)
	}
	if e.Accuracy < 0 || e.Accuracy > 1 {
		return fmt.Errorf("%w: accuracy must be between 0 and 1", ErrInvalidEvaluation)
	}
	for i, row := range e.Confusion {
		if len(row) != len(e.Confusion) {
			return fmt.Errorf("%w: confusion row %d has %d columns, want %d", ErrInvalidEvaluation, i, len(row), len(e.Confusion))
		}
	}
	return nil
}
