package trainer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"genre-forge/internal/checkpoint"
	"genre-forge/internal/dataset"
	"genre-forge/internal/model"
)

// fakeModel counts calls and predicts the class stored in each sample's
// first feature, so label alignment can be checked after shuffles.
type fakeModel struct {
	numClasses int
	valAcc     []float64
	failOn     int

	fitCalls   int
	fitValLen  int
	trainCalls int
	evalCalls  int
	batchSizes []int
}

func (f *fakeModel) Fit(ctx context.Context, train model.Batch, opts model.FitOptions) (model.History, error) {
	f.fitCalls++
	if opts.Validation != nil {
		f.fitValLen = opts.Validation.Len()
	}
	var h model.History
	for e := 0; e < opts.Epochs; e++ {
		for b, lo := 0, 0; lo < train.Len(); b, lo = b+1, lo+opts.BatchSize {
			if opts.OnBatch != nil {
				opts.OnBatch(e, b)
			}
		}
		h.Loss = append(h.Loss, 2/float64(e+1))
		h.Accuracy = append(h.Accuracy, 0.1*float64(e+1))
		if opts.Validation != nil {
			h.ValLoss = append(h.ValLoss, 2.5/float64(e+1))
			h.ValAccuracy = append(h.ValAccuracy, 0.1*float64(e))
		}
		if opts.OnEpoch != nil {
			opts.OnEpoch(e, h)
		}
	}
	return h, nil
}

func (f *fakeModel) TrainStep(b model.Batch) (float64, error) {
	f.trainCalls++
	if f.failOn > 0 && f.trainCalls == f.failOn {
		return 0, model.ErrDiverged
	}
	f.batchSizes = append(f.batchSizes, b.Len())
	if acc := aligned(b); acc != 1 {
		return 0, fmt.Errorf("batch misaligned: accuracy %.2f", acc)
	}
	return 1, nil
}

// Evaluate is called with validation, train and test in that order.
func (f *fakeModel) Evaluate(b model.Batch) (model.Evaluation, error) {
	idx := f.evalCalls
	f.evalCalls++
	if idx%3 == 0 {
		acc := 0.5
		if n := idx / 3; n < len(f.valAcc) {
			acc = f.valAcc[n]
		}
		return model.Evaluation{Loss: 1 - acc, Accuracy: acc}, nil
	}
	return model.Evaluation{Loss: 0.1, Accuracy: aligned(b)}, nil
}

func (f *fakeModel) Predict(inputs [][]float64) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	for i, x := range inputs {
		out[i] = make([]float64, f.numClasses)
		out[i][int(x[0])] = 1
	}
	return out, nil
}

func (f *fakeModel) Snapshot() *checkpoint.Snapshot {
	return &checkpoint.Snapshot{
		Architecture: "fake",
		NumClasses:   f.numClasses,
		Params:       []checkpoint.Tensor{{Name: "w", Shape: []int{1}, Data: []float64{1}}},
	}
}

func aligned(b model.Batch) float64 {
	if b.Len() == 0 {
		return 0
	}
	hits := 0
	for i, x := range b.Inputs {
		if b.Labels[i][int(x[0])] == 1 {
			hits++
		}
	}
	return float64(hits) / float64(b.Len())
}

func partition(name string, n, size, k int) dataset.Partition {
	p := dataset.Partition{Name: name}
	for i := 0; i < n; i++ {
		x := make([]float64, size)
		x[0] = float64(i % k)
		p.Features = append(p.Features, x)
		p.Labels = append(p.Labels, i%k)
	}
	return p
}

func synthetic(train, val, test int, shape dataset.Shape, k int) *dataset.Partitioned {
	return &dataset.Partitioned{
		Shape:      shape,
		Train:      partition("train", train, shape.Size(), k),
		Validation: partition("validation", val, shape.Size(), k),
		Test:       partition("test", test, shape.Size(), k),
	}
}

func labels(k int) []string {
	out := make([]string, k)
	for i := range out {
		out[i] = fmt.Sprintf("class%d", i)
	}
	return out
}

func baseConfig(t *testing.T, m *fakeModel, data *dataset.Partitioned) RunConfig {
	return RunConfig{
		Model:               m,
		Data:                data,
		Labels:              labels(m.numClasses),
		OutputDir:           t.TempDir(),
		BatchSize:           10,
		MaxIterations:       1,
		EvalEvery:           1,
		LossPlotIteration:   -1,
		CheckpointThreshold: 0.81,
		NormalizeConfusion:  true,
		Seed:                7,
	}
}

func TestSingleIterationOnSpectrogramShape(t *testing.T) {
	m := &fakeModel{numClasses: 10}
	data := synthetic(100, 20, 20, dataset.Shape{Height: 64, Width: 173, Channels: 1}, 10)
	res, err := Run(context.Background(), baseConfig(t, m, data))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.trainCalls != 10 {
		t.Fatalf("expected 10 train steps, got %d", m.trainCalls)
	}
	for _, s := range m.batchSizes {
		if s != 10 {
			t.Fatalf("expected batches of 10, got %v", m.batchSizes)
		}
	}
	if m.fitCalls != 0 || res.Iterations != 1 {
		t.Fatalf("unexpected run: fit=%d iterations=%d", m.fitCalls, res.Iterations)
	}
	if len(res.Evaluations) != 1 {
		t.Fatalf("expected one evaluation, got %d", len(res.Evaluations))
	}
	ev := res.Evaluations[0]
	for _, e := range []model.Evaluation{ev.Train, ev.Validation, ev.Test} {
		if e.Accuracy < 0 || e.Accuracy > 1 {
			t.Fatalf("accuracy out of range: %+v", ev)
		}
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("validation accuracy 0.5 must not trigger diagnostics")
	}
}

func TestPartialBatchIsDropped(t *testing.T) {
	m := &fakeModel{numClasses: 3}
	cfg := baseConfig(t, m, synthetic(25, 6, 6, dataset.Shape{Height: 2, Width: 2, Channels: 1}, 3))
	cfg.MaxIterations = 3
	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.trainCalls != 6 {
		t.Fatalf("expected floor(25/10)*3 = 6 steps, got %d", m.trainCalls)
	}
}

func TestEvaluationCadence(t *testing.T) {
	m := &fakeModel{numClasses: 3}
	cfg := baseConfig(t, m, synthetic(20, 6, 6, dataset.Shape{Height: 2, Width: 2, Channels: 1}, 3))
	cfg.MaxIterations = 5
	cfg.EvalEvery = 2
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []int
	for _, ev := range res.Evaluations {
		got = append(got, ev.Iteration)
	}
	if fmt.Sprint(got) != "[0 2 4]" {
		t.Fatalf("evaluated at %v, want [0 2 4]", got)
	}
	if m.evalCalls != 9 {
		t.Fatalf("expected 3 partitions per evaluation, got %d calls", m.evalCalls)
	}
}

func TestCheckpointTriggerIsStrict(t *testing.T) {
	m := &fakeModel{numClasses: 3, valAcc: []float64{0.81, 0.82, 0.5}}
	cfg := baseConfig(t, m, synthetic(20, 6, 6, dataset.Shape{Height: 2, Width: 2, Channels: 1}, 3))
	cfg.MaxIterations = 3
	var out bytes.Buffer
	cfg.Report = &out
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Iteration != 1 {
		t.Fatalf("expected diagnostics only at iteration 1, got %+v", res.Diagnostics)
	}
	d := res.Diagnostics[0]
	if filepath.Base(d.Checkpoint) != "model82.00_100.00.ckpt" {
		t.Fatalf("unexpected checkpoint name %s", d.Checkpoint)
	}
	snap, err := checkpoint.Read(d.Checkpoint)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.Iteration != 1 || snap.ValidationAccuracy != 0.82 || len(snap.Labels) != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if filepath.Base(d.Heatmap) != "confusion_iter0001.png" {
		t.Fatalf("unexpected heatmap name %s", d.Heatmap)
	}
	if _, err := os.Stat(d.Heatmap); err != nil {
		t.Fatalf("heatmap missing: %v", err)
	}
	if d.Confusion.Total != 6 || d.Macro.F1 != 1 {
		t.Fatalf("unexpected scores %+v total=%d", d.Macro, d.Confusion.Total)
	}
	text := out.String()
	for _, s := range []string{"Saving confusion data...", "Normalized confusion matrix", "(1.0000, 1.0000, 1.0000)"} {
		if !strings.Contains(text, s) {
			t.Fatalf("report missing %q:\n%s", s, text)
		}
	}
}

func TestTriggerUsesMostRecentEvaluation(t *testing.T) {
	m := &fakeModel{numClasses: 3, valAcc: []float64{0.9, 0.5}}
	cfg := baseConfig(t, m, synthetic(20, 6, 6, dataset.Shape{Height: 2, Width: 2, Channels: 1}, 3))
	cfg.MaxIterations = 3
	cfg.EvalEvery = 2
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []int
	for _, d := range res.Diagnostics {
		got = append(got, d.Iteration)
	}
	if fmt.Sprint(got) != "[0 1]" {
		t.Fatalf("diagnostics at %v, want [0 1]", got)
	}
}

func TestLossPlotIteration(t *testing.T) {
	m := &fakeModel{numClasses: 3}
	cfg := baseConfig(t, m, synthetic(20, 6, 9, dataset.Shape{Height: 2, Width: 2, Channels: 1}, 3))
	cfg.BulkEpochs = 3
	cfg.BulkBatchSize = 4
	cfg.MaxIterations = 2
	cfg.EvalEvery = 5
	cfg.LossPlotIteration = 1
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.fitCalls != 1 || len(res.Bulk.Loss) != 3 || len(res.Bulk.ValLoss) != 3 {
		t.Fatalf("unexpected bulk fit: calls=%d history=%+v", m.fitCalls, res.Bulk)
	}
	if m.fitValLen != 9 {
		t.Fatalf("bulk fit validated on %d samples, want the 9 test samples", m.fitValLen)
	}
	if res.LossPlot == "" {
		t.Fatal("loss plot was not written on a non-evaluation iteration")
	}
	if _, err := os.Stat(res.LossPlot); err != nil {
		t.Fatalf("loss plot missing: %v", err)
	}

	m2 := &fakeModel{numClasses: 3}
	cfg.Model = m2
	cfg.OutputDir = t.TempDir()
	cfg.LossPlotIteration = -1
	res, err = Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.LossPlot != "" {
		t.Fatal("negative loss_plot_iteration must disable the plot")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	m := &fakeModel{numClasses: 3}
	cfg := baseConfig(t, m, synthetic(20, 6, 6, dataset.Shape{Height: 2, Width: 2, Channels: 1}, 3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.trainCalls != 0 {
		t.Fatalf("trained %d steps after cancellation", m.trainCalls)
	}
}

func TestRunPropagatesDivergence(t *testing.T) {
	m := &fakeModel{numClasses: 3, failOn: 2}
	cfg := baseConfig(t, m, synthetic(20, 6, 6, dataset.Shape{Height: 2, Width: 2, Channels: 1}, 3))
	if _, err := Run(context.Background(), cfg); !errors.Is(err, model.ErrDiverged) {
		t.Fatalf("expected ErrDiverged, got %v", err)
	}
}

func TestRunRejectsShortLabelCatalog(t *testing.T) {
	m := &fakeModel{numClasses: 3}
	cfg := baseConfig(t, m, synthetic(20, 6, 6, dataset.Shape{Height: 2, Width: 2, Channels: 1}, 3))
	cfg.Labels = cfg.Labels[:2]
	if _, err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error when labels do not cover every class")
	}
}

func TestToBatchSurvivesShuffle(t *testing.T) {
	p := partition("train", 30, 4, 5)
	b, err := toBatch(p, 5)
	if err != nil {
		t.Fatalf("toBatch: %v", err)
	}
	p.Shuffle(rand.New(rand.NewSource(1)))
	if acc := aligned(b); acc != 1 {
		t.Fatalf("batch lost alignment after shuffle: %.2f", acc)
	}
}
