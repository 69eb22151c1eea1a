package model

import "time"

// BatchProgress is the running state of an epoch after one batch.
type BatchProgress struct {
	Epoch        int
	Batch        int
	TotalBatches int
	// Loss is the loss of this batch alone.
	Loss float64
	// AvgLoss is the arithmetic mean of per-batch losses so far this epoch.
	AvgLoss float64
	// Accuracy is correct predictions over samples seen so far this epoch.
	Accuracy float64
	Samples  int
	Correct  int
	Duration time.Duration
	// Logged marks the batches at which a progress record was emitted.
	Logged bool
	Last   bool
}

// EpochMetrics aggregates one finished epoch.
type EpochMetrics struct {
	Epoch    int
	Loss     float64
	Accuracy float64
	Samples  int
	Batches  int
	Skipped  int
	Duration time.Duration
	// Validation fields are only meaningful when HasValidation is set.
	HasValidation bool
	ValLoss       float64
	ValAccuracy   float64
	ValSamples    int
}
