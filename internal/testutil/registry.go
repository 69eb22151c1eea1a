package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/lookalike/internal/model"
	"github.com/Veraticus/lookalike/internal/storage"
)

// TestRegistry is an in-memory run registry that is closed when the test
// ends.
type TestRegistry struct {
	*storage.SQLiteStorage
	t *testing.T
}

// SetupTestRegistry creates a migrated in-memory registry.
//
// Example:
//
//	reg := testutil.SetupTestRegistry(t)
//	run := reg.MustCreateRun("run-1", "cats", "dogs")
func SetupTestRegistry(t *testing.T) *TestRegistry {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test registry: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestRegistry{SQLiteStorage: store, t: t}
}

// MustCreateRun records a running run over the given classes or fails the
// test.
func (r *TestRegistry) MustCreateRun(id string, classes ...string) *model.Run {
	r.t.Helper()

	index, err := model.NewClassIndex(classes)
	if err != nil {
		r.t.Fatalf("invalid classes %v: %v", classes, err)
	}
	run := &model.Run{
		ID:             id,
		Status:         model.RunStatusRunning,
		TrainDir:       "/split/train",
		ValDir:         "/split/val",
		CheckpointPath: "/models/model.ckpt",
		Device:         "cpu",
		Classes:        index,
		StartedAt:      time.Now().UTC(),
	}
	if err := r.CreateRun(context.Background(), run); err != nil {
		r.t.Fatalf("failed to create run %s: %v", id, err)
	}
	return run
}
