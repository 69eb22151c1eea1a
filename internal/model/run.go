package model

import "time"

// RunStatus indicates how far a training run got.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCanceled  RunStatus = "CANCELED"
)

// Hyperparameters are the knobs a training run was started with.
type Hyperparameters struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	Seed         int64   `json:"seed"`
	Shuffle      bool    `json:"shuffle"`
	ImageSize    int     `json:"image_size"`
	Filters      []int   `json:"filters"`
}

// Run is one training run as recorded in the run registry.
type Run struct {
	StartedAt      time.Time
	FinishedAt     *time.Time
	ID             string
	Status         RunStatus
	TrainDir       string
	ValDir         string
	CheckpointPath string
	Device         string
	Error          string
	Classes        ClassIndex
	Params         Hyperparameters
	FinalLoss      float64
	FinalAccuracy  float64
	Epochs         []EpochMetrics
}

// Evaluation is one evaluation pass as recorded in the run registry.
type Evaluation struct {
	CreatedAt      time.Time
	ID             int64
	RunID          string
	CheckpointPath string
	ValDir         string
	PlotPath       string
	Accuracy       float64
	Samples        int
	Confusion      [][]int
}
