// Package service defines the interfaces shared between the pipeline stages
// and their persistence layer.
package service

import (
	"context"

	"github.com/Veraticus/lookalike/internal/model"
)

// RunRegistry records training runs and evaluations.
type RunRegistry interface {
	// Run operations
	CreateRun(ctx context.Context, run *model.Run) error
	RecordEpoch(ctx context.Context, runID string, metrics model.EpochMetrics) error
	FinishRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Evaluation operations
	SaveEvaluation(ctx context.Context, evaluation *model.Evaluation) error
	ListEvaluations(ctx context.Context, runID string) ([]model.Evaluation, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}
