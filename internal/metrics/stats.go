package metrics

import "time"

// Window accumulates timing and loss across the mini-batch steps of one
// outer training iteration.
type Window struct {
	samples int
	prep    time.Duration
	compute time.Duration
	steps   int
	lossSum float64
}

// Record adds one mini-batch step to the window.
func (w *Window) Record(batchSize int, prepTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.prep += prepTime
	w.compute += computeTime
	w.steps++
	w.lossSum += loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	total := w.prep + w.compute
	if total > 0 {
		snap.SamplesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgPrepMS = (w.prep.Seconds() * 1000) / float64(w.steps)
		snap.AvgStepMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanLoss = w.lossSum / float64(w.steps)
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps         int
	SamplesPerSec float64
	AvgPrepMS     float64
	AvgStepMS     float64
	MeanLoss      float64
}
