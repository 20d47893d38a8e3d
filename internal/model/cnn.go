package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"text/tabwriter"

	"genre-forge/internal/checkpoint"
	"genre-forge/internal/nn"
)

const defaultEvalBatch = 32

// Options configures the model factory.
type Options struct {
	Architecture Architecture
	Input        nn.Shape
	NumClasses   int
	// Optimizer defaults to Adam(0.001, 0.9, 0.999, 1e-8) when nil.
	Optimizer *nn.Adam
	Seed      int64
	// EvalBatchSize bounds memory during Evaluate and Predict.
	EvalBatchSize int
}

// CNN is a compiled sequential classifier trained with softmax
// cross-entropy. It is not safe for concurrent use.
type CNN struct {
	arch       Architecture
	net        *nn.Sequential
	opt        *nn.Adam
	numClasses int
	evalBatch  int
	rng        *rand.Rand
}

// New builds and compiles the classifier described by opts. It fails when
// the input shape collapses somewhere in the convolution stack.
func New(opts Options) (*CNN, error) {
	if opts.NumClasses < 2 {
		return nil, fmt.Errorf("model: need at least 2 classes, got %d", opts.NumClasses)
	}
	if opts.Input.Size() <= 0 {
		return nil, fmt.Errorf("model: invalid input shape %v", opts.Input)
	}
	arch := opts.Architecture
	if arch.Name == "" {
		arch.Name = "sequential"
	}
	seed := opts.Seed
	if seed == 0 {
		seed = 42
	}
	rng := rand.New(rand.NewSource(seed))
	net := nn.NewSequential(opts.Input)
	names := layerNamer{}

	build := func(l nn.Layer, err error) error {
		if err != nil {
			return fmt.Errorf("model: build %s: %w", arch.Name, err)
		}
		net.Add(l)
		return nil
	}

	for _, st := range arch.Conv {
		if err := build(nn.NewConv2D(names.next("conv2d"), net.OutputShape(), st.Filters, st.KernelH, st.KernelW, st.L2, rng)); err != nil {
			return nil, err
		}
		if st.BatchNorm {
			net.Add(nn.NewBatchNorm(names.next("batch_normalization"), net.OutputShape()))
		}
		if st.PoolH > 0 && st.PoolW > 0 {
			if err := build(nn.NewMaxPool2D(names.next("max_pooling2d"), net.OutputShape(), st.PoolH, st.PoolW)); err != nil {
				return nil, err
			}
		}
		if st.Dropout > 0 {
			if err := build(nn.NewDropout(names.next("dropout"), net.OutputShape(), st.Dropout, rng)); err != nil {
				return nil, err
			}
		}
	}
	net.Add(nn.NewFlatten(names.next("flatten"), net.OutputShape()))
	for _, st := range arch.Dense {
		if err := build(nn.NewDense(names.next("dense"), net.OutputShape(), st.Units, nn.ReLU, st.L2, rng)); err != nil {
			return nil, err
		}
		if st.Dropout > 0 {
			if err := build(nn.NewDropout(names.next("dropout"), net.OutputShape(), st.Dropout, rng)); err != nil {
				return nil, err
			}
		}
	}
	if err := build(nn.NewDense(names.next("dense"), net.OutputShape(), opts.NumClasses, nn.Linear, 0, rng)); err != nil {
		return nil, err
	}

	opt := opts.Optimizer
	if opt == nil {
		opt = nn.NewAdam(0.001, 0.9, 0.999, 1e-8, 0)
	}
	evalBatch := opts.EvalBatchSize
	if evalBatch <= 0 {
		evalBatch = defaultEvalBatch
	}
	return &CNN{
		arch:       arch,
		net:        net,
		opt:        opt,
		numClasses: opts.NumClasses,
		evalBatch:  evalBatch,
		rng:        rng,
	}, nil
}

// NumClasses reports the width of the softmax output.
func (m *CNN) NumClasses() int { return m.numClasses }

// InputShape reports the expected sample shape.
func (m *CNN) InputShape() nn.Shape { return m.net.InputShape() }

// TrainStep performs exactly one optimizer step on batch and returns the
// regularized training loss.
func (m *CNN) TrainStep(batch Batch) (float64, error) {
	loss, _, err := m.step(batch)
	return loss, err
}

func (m *CNN) step(batch Batch) (float64, int, error) {
	if batch.Len() == 0 {
		return 0, 0, errors.New("model: empty batch")
	}
	x, err := m.tensor(batch)
	if err != nil {
		return 0, 0, err
	}
	m.net.ZeroGrad()
	logits := m.net.Forward(x, true)
	ce, probs, grad, err := nn.SoftmaxCrossEntropy(logits, batch.Labels)
	if err != nil {
		return 0, 0, err
	}
	params := m.net.Params()
	loss := ce + nn.L2Penalty(params)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, 0, fmt.Errorf("%w: training loss %g", ErrDiverged, loss)
	}
	m.net.Backward(grad)
	nn.AddL2Grad(params)
	m.opt.Step(params)
	return loss, countCorrect(probs, batch.Labels), nil
}

// Evaluate computes the regularized loss and argmax accuracy over batch in
// inference mode. Parameters are not changed.
func (m *CNN) Evaluate(batch Batch) (Evaluation, error) {
	n := batch.Len()
	if n == 0 {
		return Evaluation{}, errors.New("model: evaluate on empty partition")
	}
	totalLoss := 0.0
	correct := 0
	for lo := 0; lo < n; lo += m.evalBatch {
		hi := min(lo+m.evalBatch, n)
		chunk := Batch{Inputs: batch.Inputs[lo:hi], Labels: batch.Labels[lo:hi]}
		x, err := m.tensor(chunk)
		if err != nil {
			return Evaluation{}, err
		}
		ce, probs, _, err := nn.SoftmaxCrossEntropy(m.net.Forward(x, false), chunk.Labels)
		if err != nil {
			return Evaluation{}, err
		}
		totalLoss += ce * float64(hi-lo)
		correct += countCorrect(probs, chunk.Labels)
	}
	return Evaluation{
		Loss:     totalLoss/float64(n) + nn.L2Penalty(m.net.Params()),
		Accuracy: float64(correct) / float64(n),
	}, nil
}

// Predict returns class probabilities for each input.
func (m *CNN) Predict(inputs [][]float64) ([][]float64, error) {
	out := make([][]float64, 0, len(inputs))
	for lo := 0; lo < len(inputs); lo += m.evalBatch {
		hi := min(lo+m.evalBatch, len(inputs))
		x, err := nn.FromRows(inputs[lo:hi], m.net.InputShape())
		if err != nil {
			return nil, err
		}
		for _, row := range m.net.Forward(x, false).Rows() {
			out = append(out, nn.Softmax(nil, row))
		}
	}
	return out, nil
}

// Fit trains for opts.Epochs full passes over train, reshuffling each
// epoch and including the trailing partial batch. When opts.Validation is
// set it is evaluated after every epoch.
func (m *CNN) Fit(ctx context.Context, train Batch, opts FitOptions) (History, error) {
	var h History
	n := train.Len()
	if n == 0 {
		return h, errors.New("model: fit on empty partition")
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultEvalBatch
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		m.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		lossSum, correct := 0.0, 0
		for b, lo := 0, 0; lo < n; b, lo = b+1, lo+batchSize {
			if err := ctx.Err(); err != nil {
				return h, err
			}
			hi := min(lo+batchSize, n)
			batch := Batch{Inputs: make([][]float64, 0, hi-lo), Labels: make([][]float64, 0, hi-lo)}
			for _, idx := range order[lo:hi] {
				batch.Inputs = append(batch.Inputs, train.Inputs[idx])
				batch.Labels = append(batch.Labels, train.Labels[idx])
			}
			loss, hits, err := m.step(batch)
			if err != nil {
				return h, fmt.Errorf("epoch %d batch %d: %w", epoch+1, b, err)
			}
			lossSum += loss * float64(hi-lo)
			correct += hits
			if opts.OnBatch != nil {
				opts.OnBatch(epoch, b)
			}
		}
		h.Loss = append(h.Loss, lossSum/float64(n))
		h.Accuracy = append(h.Accuracy, float64(correct)/float64(n))
		if opts.Validation != nil {
			ev, err := m.Evaluate(*opts.Validation)
			if err != nil {
				return h, fmt.Errorf("epoch %d validation: %w", epoch+1, err)
			}
			h.ValLoss = append(h.ValLoss, ev.Loss)
			h.ValAccuracy = append(h.ValAccuracy, ev.Accuracy)
		}
		if opts.OnEpoch != nil {
			opts.OnEpoch(epoch, h)
		}
	}
	return h, nil
}

// Snapshot copies every parameter, including batch-norm moving statistics.
func (m *CNN) Snapshot() *checkpoint.Snapshot {
	in := m.net.InputShape()
	snap := &checkpoint.Snapshot{
		Architecture: m.arch.Name,
		InputShape:   []int{in.H, in.W, in.C},
		NumClasses:   m.numClasses,
	}
	for _, p := range m.net.Params() {
		snap.Params = append(snap.Params, checkpoint.Tensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Dims...),
			Data:  append([]float64(nil), p.Value...),
		})
	}
	return snap
}

// Restore loads parameters from a snapshot of the same architecture.
func (m *CNN) Restore(snap *checkpoint.Snapshot) error {
	if snap.NumClasses != m.numClasses {
		return fmt.Errorf("model: snapshot has %d classes, model has %d", snap.NumClasses, m.numClasses)
	}
	in := m.net.InputShape()
	if len(snap.InputShape) != 3 || snap.InputShape[0] != in.H || snap.InputShape[1] != in.W || snap.InputShape[2] != in.C {
		return fmt.Errorf("model: snapshot input shape %v, model expects %v", snap.InputShape, in)
	}
	params := m.net.Params()
	for _, p := range params {
		t, ok := snap.Param(p.Name)
		if !ok {
			return fmt.Errorf("model: snapshot lacks parameter %s", p.Name)
		}
		if len(t.Data) != len(p.Value) {
			return fmt.Errorf("model: parameter %s has %d values, want %d", p.Name, len(t.Data), len(p.Value))
		}
	}
	for _, p := range params {
		t, _ := snap.Param(p.Name)
		copy(p.Value, t.Data)
	}
	return nil
}

// Save writes the current parameters to path.
func (m *CNN) Save(path string) error {
	return checkpoint.Write(path, m.Snapshot())
}

// Summary writes a layer table with output shapes and parameter counts.
func (m *CNN) Summary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Model: %q\n", m.arch.Name)
	fmt.Fprintln(tw, "Layer (type)\tOutput Shape\tParam #")
	fmt.Fprintln(tw, strings.Repeat("=", 24)+"\t"+strings.Repeat("=", 16)+"\t"+strings.Repeat("=", 8))
	trainable, frozen := 0, 0
	for _, l := range m.net.Layers() {
		count := 0
		for _, p := range l.Params() {
			count += len(p.Value)
			if p.Trainable() {
				trainable += len(p.Value)
			} else {
				frozen += len(p.Value)
			}
		}
		fmt.Fprintf(tw, "%s (%s)\t%v\t%d\n", l.Name(), layerType(l), l.OutputShape(), count)
	}
	fmt.Fprintf(tw, "Total params: %d\nTrainable params: %d\nNon-trainable params: %d\n", trainable+frozen, trainable, frozen)
	return tw.Flush()
}

func (m *CNN) tensor(batch Batch) (*nn.Tensor, error) {
	if len(batch.Labels) != len(batch.Inputs) {
		return nil, fmt.Errorf("%w: %d inputs with %d labels", nn.ErrShape, len(batch.Inputs), len(batch.Labels))
	}
	for i, l := range batch.Labels {
		if len(l) != m.numClasses {
			return nil, fmt.Errorf("%w: label %d has width %d, want %d", nn.ErrShape, i, len(l), m.numClasses)
		}
	}
	return nn.FromRows(batch.Inputs, m.net.InputShape())
}

func countCorrect(probs *nn.Tensor, labels [][]float64) int {
	correct := 0
	for i, label := range labels {
		if nn.ArgMax(probs.Sample(i)) == nn.ArgMax(label) {
			correct++
		}
	}
	return correct
}

func layerType(l nn.Layer) string {
	switch l.(type) {
	case *nn.Conv2D:
		return "Conv2D"
	case *nn.BatchNorm:
		return "BatchNormalization"
	case *nn.MaxPool2D:
		return "MaxPooling2D"
	case *nn.Dropout:
		return "Dropout"
	case *nn.Flatten:
		return "Flatten"
	case *nn.Dense:
		return "Dense"
	default:
		return fmt.Sprintf("%T", l)
	}
}

type layerNamer map[string]int

func (n layerNamer) next(kind string) string {
	n[kind]++
	return fmt.Sprintf("%s_%d", kind, n[kind])
}
