package model

import (
	"context"
	"errors"

	"genre-forge/internal/checkpoint"
)

// ErrDiverged is returned when a training step produces a non-finite loss.
var ErrDiverged = errors.New("model: loss diverged")

// Batch represents a set of flattened samples and their one-hot labels.
type Batch struct {
	Inputs [][]float64
	Labels [][]float64
}

// Len reports the number of samples.
func (b Batch) Len() int {
	return len(b.Inputs)
}

// Evaluation is the loss and accuracy over one partition.
type Evaluation struct {
	Loss     float64
	Accuracy float64
}

// History records per-epoch results of Fit.
type History struct {
	Loss        []float64
	Accuracy    []float64
	ValLoss     []float64
	ValAccuracy []float64
}

// FitOptions configures a framework-managed multi-epoch fit.
type FitOptions struct {
	BatchSize  int
	Epochs     int
	Validation *Batch
	// OnBatch is called after every optimizer step.
	OnBatch func(epoch, batch int)
	// OnEpoch is called after every epoch with the history so far.
	OnEpoch func(epoch int, h History)
}

// Model defines the training functionality the controller drives.
type Model interface {
	Fit(ctx context.Context, train Batch, opts FitOptions) (History, error)
	TrainStep(batch Batch) (float64, error)
	Evaluate(batch Batch) (Evaluation, error)
	Predict(inputs [][]float64) ([][]float64, error)
	Snapshot() *checkpoint.Snapshot
}
