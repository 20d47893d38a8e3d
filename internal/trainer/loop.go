package trainer

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"k8s.io/klog/v2"

	"genre-forge/internal/dataset"
	"genre-forge/internal/metrics"
	"genre-forge/internal/model"
	"genre-forge/internal/report"
)

// RunConfig captures the knobs required by the training controller.
type RunConfig struct {
	Model     model.Model
	Data      *dataset.Partitioned
	Labels    []string
	OutputDir string

	BulkEpochs    int
	BulkBatchSize int

	BatchSize           int
	MaxIterations       int
	EvalEvery           int
	LossPlotIteration   int
	CheckpointThreshold float64
	NormalizeConfusion  bool
	Seed                int64

	// Report receives the printed confusion matrix and scores.
	Report io.Writer
	// Progress receives the bulk-fit progress bar. Nil hides it.
	Progress io.Writer
}

// Evaluation holds the three per-partition results of one evaluation pass.
type Evaluation struct {
	Iteration  int
	Train      model.Evaluation
	Validation model.Evaluation
	Test       model.Evaluation
}

// Result summarises a finished run.
type Result struct {
	Bulk        model.History
	Iterations  int
	Evaluations []Evaluation
	Diagnostics []Diagnostics
	LossPlot    string
}

func (cfg *RunConfig) validate() error {
	if cfg.Model == nil {
		return errors.New("trainer: model is nil")
	}
	if cfg.Data == nil {
		return errors.New("trainer: dataset is nil")
	}
	if cfg.MaxIterations < 0 {
		return errors.Errorf("trainer: max iterations must be >= 0 (got %d)", cfg.MaxIterations)
	}
	if cfg.BatchSize <= 0 {
		return errors.Errorf("trainer: batch size must be > 0 (got %d)", cfg.BatchSize)
	}
	if cfg.BulkEpochs > 0 && cfg.BulkBatchSize <= 0 {
		return errors.Errorf("trainer: bulk batch size must be > 0 (got %d)", cfg.BulkBatchSize)
	}
	if cfg.EvalEvery <= 0 {
		cfg.EvalEvery = 1
	}
	if len(cfg.Labels) < cfg.Data.NumClasses() {
		return errors.Errorf("trainer: %d labels for %d classes", len(cfg.Labels), cfg.Data.NumClasses())
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Report == nil {
		cfg.Report = io.Discard
	}
	return nil
}

// Run executes the bulk fit followed by the manual fine-tuning loop.
func Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sampler, err := dataset.NewSampler(cfg.Seed, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	klog.V(1).InfoS("Fine-tuning setup", "batchSize", sampler.BatchSize(), "iterations", cfg.MaxIterations, "evalEvery", cfg.EvalEvery)

	k := len(cfg.Labels)
	train, err := toBatch(cfg.Data.Train, k)
	if err != nil {
		return nil, err
	}
	val, err := toBatch(cfg.Data.Validation, k)
	if err != nil {
		return nil, err
	}
	test, err := toBatch(cfg.Data.Test, k)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if cfg.BulkEpochs > 0 {
		res.Bulk, err = bulkFit(ctx, cfg, train, test)
		if err != nil {
			return res, errors.Wrap(err, "trainer: bulk fit")
		}
	}

	var window metrics.Window
	var last *Evaluation
	for it := 0; it < cfg.MaxIterations; it++ {
		for b, part := range sampler.Next(cfg.Data.Train) {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			startPrep := time.Now()
			batch, err := toBatch(part, k)
			if err != nil {
				return res, err
			}
			prepTime := time.Since(startPrep)

			startStep := time.Now()
			loss, err := cfg.Model.TrainStep(batch)
			if err != nil {
				return res, errors.Wrapf(err, "trainer: iteration %d batch %d", it, b)
			}
			window.Record(batch.Len(), prepTime, time.Since(startStep), loss)
			klog.V(2).InfoS("Train step", "iteration", it, "batch", b, "loss", loss)
		}
		res.Iterations = it + 1

		snap := window.Snapshot()
		klog.V(1).InfoS("Iteration complete",
			"iteration", it,
			"batches", snap.Steps,
			"samplesPerSec", snap.SamplesPerSec,
			"prepMs", snap.AvgPrepMS,
			"stepMs", snap.AvgStepMS,
			"meanLoss", snap.MeanLoss,
		)

		if it%cfg.EvalEvery == 0 {
			ev, err := evaluate(cfg.Model, it, train, val, test)
			if err != nil {
				return res, err
			}
			res.Evaluations = append(res.Evaluations, ev)
			last = &ev
			klog.InfoS("Evaluation",
				"iteration", it,
				"trainAccuracy", ev.Train.Accuracy,
				"validationAccuracy", ev.Validation.Accuracy,
				"testAccuracy", ev.Test.Accuracy,
				"trainLoss", ev.Train.Loss,
				"validationLoss", ev.Validation.Loss,
				"testLoss", ev.Test.Loss,
			)
		}

		if it == cfg.LossPlotIteration {
			if len(res.Bulk.Loss) == 0 {
				klog.InfoS("Skipping loss plot, bulk fit recorded no epochs", "iteration", it)
			} else {
				path := filepath.Join(cfg.OutputDir, report.LossPlotFile)
				if err := report.LossCurves(path, res.Bulk.Loss, res.Bulk.ValLoss); err != nil {
					return res, err
				}
				res.LossPlot = path
				klog.InfoS("Saved loss curves", "path", path)
			}
		}

		if last != nil && last.Validation.Accuracy > cfg.CheckpointThreshold {
			d, err := diagnose(cfg, it, *last, test, cfg.Data.Test.Labels)
			if err != nil {
				return res, err
			}
			res.Diagnostics = append(res.Diagnostics, d)
		}
	}
	return res, nil
}

// bulkFit runs the framework-managed multi-epoch fit, validated against the
// test partition.
func bulkFit(ctx context.Context, cfg RunConfig, train, test model.Batch) (model.History, error) {
	perEpoch := (train.Len() + cfg.BulkBatchSize - 1) / cfg.BulkBatchSize
	p := mpb.NewWithContext(ctx, mpb.WithOutput(cfg.Progress), mpb.WithWidth(64))
	bar := p.AddBar(int64(cfg.BulkEpochs*perEpoch),
		mpb.PrependDecorators(
			decor.Name("Bulk fit: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)

	h, err := cfg.Model.Fit(ctx, train, model.FitOptions{
		BatchSize:  cfg.BulkBatchSize,
		Epochs:     cfg.BulkEpochs,
		Validation: &test,
		OnBatch:    func(int, int) { bar.Increment() },
		OnEpoch: func(epoch int, h model.History) {
			kv := []interface{}{"epoch", epoch + 1, "loss", h.Loss[epoch], "accuracy", h.Accuracy[epoch]}
			if len(h.ValLoss) > epoch {
				kv = append(kv, "testLoss", h.ValLoss[epoch], "testAccuracy", h.ValAccuracy[epoch])
			}
			klog.InfoS("Bulk epoch", kv...)
		},
	})
	if err != nil {
		bar.Abort(false)
	} else {
		bar.SetTotal(-1, true)
	}
	p.Wait()
	return h, err
}

func evaluate(m model.Model, it int, train, val, test model.Batch) (Evaluation, error) {
	ev := Evaluation{Iteration: it}
	var err error
	if ev.Validation, err = m.Evaluate(val); err != nil {
		return ev, errors.Wrapf(err, "trainer: evaluate validation at iteration %d", it)
	}
	if ev.Train, err = m.Evaluate(train); err != nil {
		return ev, errors.Wrapf(err, "trainer: evaluate train at iteration %d", it)
	}
	if ev.Test, err = m.Evaluate(test); err != nil {
		return ev, errors.Wrapf(err, "trainer: evaluate test at iteration %d", it)
	}
	return ev, nil
}

// toBatch one-hot encodes p. The input slice is copied so later in-place
// shuffles of p do not reorder the batch.
func toBatch(p dataset.Partition, numClasses int) (model.Batch, error) {
	labels, err := p.OneHot(numClasses)
	if err != nil {
		return model.Batch{}, errors.Wrapf(err, "trainer: encode %s labels", p.Name)
	}
	return model.Batch{
		Inputs: append([][]float64(nil), p.Features...),
		Labels: labels,
	}, nil
}
