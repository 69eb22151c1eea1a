package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/lookalike/internal/model"
	"github.com/mattn/go-sqlite3"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func testRun(t *testing.T, id string, started time.Time) *model.Run {
	t.Helper()
	classes, err := model.NewClassIndex([]string{"cats", "dogs"})
	if err != nil {
		t.Fatalf("Failed to build class index: %v", err)
	}
	return &model.Run{
		ID:             id,
		Status:         model.RunStatusRunning,
		TrainDir:       "./data/split/train",
		ValDir:         "./data/split/val",
		CheckpointPath: "./model.ckpt",
		Device:         "cpu",
		Classes:        classes,
		StartedAt:      started,
		Params: model.Hyperparameters{
			Epochs:       3,
			BatchSize:    32,
			LearningRate: 0.001,
			Seed:         42,
			Shuffle:      true,
			ImageSize:    128,
			Filters:      []int{8, 16},
		},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Second migration failed: %v", err)
	}

	var version int
	if err := store.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if version != ExpectedSchemaVersion {
		t.Errorf("Schema version = %d, want %d", version, ExpectedSchemaVersion)
	}
}

func TestRunLifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	run := testRun(t, "run-1", time.Now().Add(-time.Minute))
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	for epoch := 1; epoch <= 2; epoch++ {
		m := model.EpochMetrics{
			Epoch:         epoch,
			Loss:          1.0 / float64(epoch),
			Accuracy:      0.5 + 0.1*float64(epoch),
			Samples:       160,
			Batches:       5,
			Skipped:       epoch - 1,
			Duration:      1500 * time.Millisecond,
			HasValidation: epoch == 2,
			ValLoss:       0.4,
			ValAccuracy:   0.8,
			ValSamples:    40,
		}
		if err := store.RecordEpoch(ctx, run.ID, m); err != nil {
			t.Fatalf("Failed to record epoch %d: %v", epoch, err)
		}
	}

	run.Status = model.RunStatusCompleted
	run.FinalLoss = 0.5
	run.FinalAccuracy = 0.7
	if err := store.FinishRun(ctx, run); err != nil {
		t.Fatalf("Failed to finish run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.Status != model.RunStatusCompleted {
		t.Errorf("Status = %s, want %s", got.Status, model.RunStatusCompleted)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if !got.Classes.Equal(run.Classes) {
		t.Errorf("Classes = %v, want %v", got.Classes, run.Classes)
	}
	if got.Params.ImageSize != 128 || len(got.Params.Filters) != 2 {
		t.Errorf("Params not round-tripped: %+v", got.Params)
	}
	if len(got.Epochs) != 2 {
		t.Fatalf("Got %d epochs, want 2", len(got.Epochs))
	}
	if got.Epochs[0].Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", got.Epochs[0].Duration)
	}
	if got.Epochs[0].HasValidation || !got.Epochs[1].HasValidation {
		t.Error("Validation flags not round-tripped")
	}
	if got.Epochs[1].Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", got.Epochs[1].Skipped)
	}
}

func TestRecordEpoch_Replaces(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	run := testRun(t, "run-1", time.Now())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	for _, loss := range []float64{0.9, 0.3} {
		if err := store.RecordEpoch(ctx, run.ID, model.EpochMetrics{Epoch: 1, Loss: loss}); err != nil {
			t.Fatalf("Failed to record epoch: %v", err)
		}
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if len(got.Epochs) != 1 || got.Epochs[0].Loss != 0.3 {
		t.Errorf("Epochs = %+v, want a single epoch with loss 0.3", got.Epochs)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "middle", "new"} {
		if err := store.CreateRun(ctx, testRun(t, id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Failed to create run %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Got %d runs, want 3", len(runs))
	}
	if runs[0].ID != "new" || runs[2].ID != "old" {
		t.Errorf("Order = %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}

	limited, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Got %d runs with limit 2", len(limited))
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}

	missing := testRun(t, "missing", time.Now())
	missing.Status = model.RunStatusFailed
	if err := store.FinishRun(context.Background(), missing); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound from FinishRun, got %v", err)
	}
}

func TestCreateRun_Validation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		mutate  func(*model.Run)
		wantErr error
		name    string
	}{
		{name: "missing ID", mutate: func(r *model.Run) { r.ID = " " }, wantErr: ErrInvalidRun},
		{name: "missing train dir", mutate: func(r *model.Run) { r.TrainDir = "" }, wantErr: ErrInvalidRun},
		{name: "missing checkpoint", mutate: func(r *model.Run) { r.CheckpointPath = "" }, wantErr: ErrInvalidRun},
		{name: "zero start", mutate: func(r *model.Run) { r.StartedAt = time.Time{} }, wantErr: ErrInvalidRun},
		{name: "no classes", mutate: func(r *model.Run) { r.Classes = model.ClassIndex{} }, wantErr: ErrInvalidRun},
		{name: "bad status", mutate: func(r *model.Run) { r.Status = "PAUSED" }, wantErr: ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := testRun(t, "run", time.Now())
			tt.mutate(run)
			if err := store.CreateRun(ctx, run); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateRun() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := store.CreateRun(ctx, nil); !errors.Is(err, ErrNilParameter) {
		t.Errorf("CreateRun(nil) error = %v, want ErrNilParameter", err)
	}
	if err := store.RecordEpoch(ctx, "run", model.EpochMetrics{Epoch: 0}); !errors.Is(err, ErrInvalidEpoch) {
		t.Errorf("RecordEpoch(epoch 0) error = %v, want ErrInvalidEpoch", err)
	}
}

func TestEvaluations(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	first := &model.Evaluation{
		RunID:          "run-1",
		CheckpointPath: "./model.ckpt",
		ValDir:         "./data/split/val",
		PlotPath:       "confusion_matrix.png",
		Accuracy:       0.75,
		Samples:        40,
		Confusion:      [][]int{{15, 5}, {5, 15}},
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	second := &model.Evaluation{
		CheckpointPath: "./other.ckpt",
		ValDir:         "./data/split/val",
		Accuracy:       0.9,
		Samples:        40,
		Confusion:      [][]int{{18, 2}, {2, 18}},
	}
	for _, e := range []*model.Evaluation{first, second} {
		if err := store.SaveEvaluation(ctx, e); err != nil {
			t.Fatalf("Failed to save evaluation: %v", err)
		}
		if e.ID == 0 {
			t.Error("Evaluation ID not set")
		}
	}

	all, err := store.ListEvaluations(ctx, "")
	if err != nil {
		t.Fatalf("Failed to list evaluations: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("Got %+v, want newest evaluation first", all)
	}

	forRun, err := store.ListEvaluations(ctx, "run-1")
	if err != nil {
		t.Fatalf("Failed to list evaluations: %v", err)
	}
	if len(forRun) != 1 {
		t.Fatalf("Got %d evaluations for run-1, want 1", len(forRun))
	}
	if forRun[0].Confusion[0][1] != 5 || forRun[0].PlotPath != "confusion_matrix.png" {
		t.Errorf("Evaluation not round-tripped: %+v", forRun[0])
	}

	bad := &model.Evaluation{CheckpointPath: "x", ValDir: "y", Confusion: [][]int{{1, 2}}}
	if err := store.SaveEvaluation(ctx, bad); !errors.Is(err, ErrInvalidEvaluation) {
		t.Errorf("Expected ErrInvalidEvaluation, got %v", err)
	}
}

func TestRunRecorder(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	run := testRun(t, "run-rec", time.Now())
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	rec := NewRunRecorder(store, run.ID, nil)
	rec.OnBatch(ctx, model.BatchProgress{Epoch: 1, Batch: 1})
	rec.OnEpoch(ctx, model.EpochMetrics{Epoch: 1, Loss: 0.6, Accuracy: 0.7})
	// Invalid metrics are logged, not returned.
	rec.OnEpoch(ctx, model.EpochMetrics{Epoch: 0})

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if len(got.Epochs) != 1 {
		t.Errorf("Got %d epochs, want 1", len(got.Epochs))
	}
}

func TestIsBusy(t *testing.T) {
	if isBusy(errors.New("plain")) {
		t.Error("Plain error reported as busy")
	}
	busy := fmt.Errorf("failed to insert run: %w", sqlite3.Error{Code: sqlite3.ErrBusy})
	if !isBusy(busy) {
		t.Error("Wrapped SQLITE_BUSY not reported as busy")
	}
	if isBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}) {
		t.Error("Constraint violation reported as busy")
	}
}
