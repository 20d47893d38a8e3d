package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"genre-forge/internal/checkpoint"
	"genre-forge/internal/config"
	"genre-forge/internal/dataset"
	"genre-forge/internal/model"
	"genre-forge/internal/nn"
	"genre-forge/internal/trainer"
)

type flags struct {
	cfgPath    string
	dataPath   string
	outputDir  string
	iterations int
	batchSize  int
	evalEvery  int
	seed       int64
	resume     string
}

func main() {
	klog.InitFlags(nil)
	var f flags
	flag.StringVar(&f.cfgPath, "config", "", "Path to YAML config (defaults are used when empty)")
	flag.StringVar(&f.dataPath, "data", "", "Override archive path or directory holding one .npz")
	flag.StringVar(&f.outputDir, "out", "", "Override output directory for snapshots and plots")
	flag.IntVar(&f.iterations, "iterations", 0, "Number of fine-tuning iterations")
	flag.IntVar(&f.batchSize, "batch-size", 0, "Fine-tuning mini-batch size")
	flag.IntVar(&f.evalEvery, "eval-every", 0, "Evaluate every N iterations")
	flag.Int64Var(&f.seed, "seed", 0, "PRNG seed")
	flag.StringVar(&f.resume, "resume", "", "Restore parameters from a snapshot before training")
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		klog.Errorf("training failed: %+v", err)
		stop()
		klog.FlushAndExit(klog.ExitFlushTimeout, 1)
	}
}

func run(ctx context.Context, f flags) error {
	cfg := config.Default()
	if f.cfgPath != "" {
		var err error
		if cfg, err = config.Load(f.cfgPath); err != nil {
			return errors.Wrap(err, "load config")
		}
	}
	cfg.ApplyOverrides(config.Overrides{
		DataPath:      f.dataPath,
		OutputDir:     f.outputDir,
		MaxIterations: f.iterations,
		BatchSize:     f.batchSize,
		EvalEvery:     f.evalEvery,
		Seed:          f.seed,
	})
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	path, err := dataset.ResolveArchive(cfg.DataPath)
	if err != nil {
		return err
	}
	shape := dataset.Shape{Height: cfg.InputHeight, Width: cfg.InputWidth, Channels: 1}
	data, err := dataset.LoadArchive(path, shape)
	if err != nil {
		return err
	}
	if cfg.ShufflePartitions {
		data.ShuffleAll(rand.New(rand.NewSource(cfg.Seed)))
	}
	klog.InfoS("Loaded archive",
		"path", path,
		"shape", data.Shape.String(),
		"train", data.Train.Len(),
		"validation", data.Validation.Len(),
		"test", data.Test.Len(),
		"classes", data.NumClasses(),
	)
	if n := data.NumClasses(); n > len(cfg.Labels) {
		return errors.Errorf("archive has %d classes but only %d labels are configured", n, len(cfg.Labels))
	}

	o := cfg.Optimizer
	mdl, err := model.New(model.Options{
		Architecture: model.DefaultArchitecture(),
		Input:        nn.Shape{H: data.Shape.Height, W: data.Shape.Width, C: data.Shape.Channels},
		NumClasses:   len(cfg.Labels),
		Optimizer:    nn.NewAdam(o.LearningRate, o.Beta1, o.Beta2, o.Epsilon, o.Decay),
		Seed:         cfg.Seed,
	})
	if err != nil {
		return err
	}
	klog.InfoS("Built model", "classes", mdl.NumClasses(), "input", mdl.InputShape().String())
	if err := mdl.Summary(os.Stdout); err != nil {
		return err
	}
	if f.resume != "" {
		snap, err := checkpoint.Read(f.resume)
		if err != nil {
			return err
		}
		if err := mdl.Restore(snap); err != nil {
			return errors.Wrapf(err, "resume from %s", f.resume)
		}
		klog.InfoS("Restored snapshot", "path", f.resume, "iteration", snap.Iteration, "validationAccuracy", snap.ValidationAccuracy)
	}

	res, err := trainer.Run(ctx, trainer.RunConfig{
		Model:               mdl,
		Data:                data,
		Labels:              cfg.Labels,
		OutputDir:           cfg.OutputDir,
		BulkEpochs:          cfg.BulkEpochs,
		BulkBatchSize:       cfg.BulkBatchSize,
		BatchSize:           cfg.BatchSize,
		MaxIterations:       cfg.MaxIterations,
		EvalEvery:           cfg.EvalEvery,
		LossPlotIteration:   cfg.LossPlotIteration,
		CheckpointThreshold: cfg.CheckpointThreshold,
		NormalizeConfusion:  cfg.NormalizeConfusion,
		Seed:                cfg.Seed,
		Report:              os.Stdout,
		Progress:            os.Stderr,
	})
	if err != nil {
		return err
	}
	final := filepath.Join(cfg.OutputDir, "model_final"+checkpoint.Extension)
	if err := mdl.Save(final); err != nil {
		return err
	}
	klog.InfoS("Training finished", "iterations", res.Iterations, "evaluations", len(res.Evaluations), "snapshots", len(res.Diagnostics), "final", final)
	return nil
}
