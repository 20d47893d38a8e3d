package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultLabels is the ordered genre catalog used for report labels.
var DefaultLabels = []string{
	"Blues", "Classical", "Country", "Disco", "Hip hop",
	"Jazz", "Metal", "Pop", "Reggae", "Rock",
}

// Optimizer holds the Adam hyperparameters.
type Optimizer struct {
	LearningRate float64 `yaml:"learning_rate"`
	Beta1        float64 `yaml:"beta1"`
	Beta2        float64 `yaml:"beta2"`
	Epsilon      float64 `yaml:"epsilon"`
	Decay        float64 `yaml:"decay"`
}

// Config captures the runtime knobs for a training run.
type Config struct {
	DataPath            string    `yaml:"data_path"`
	OutputDir           string    `yaml:"output_dir"`
	Labels              []string  `yaml:"labels"`
	InputHeight         int       `yaml:"input_height"`
	InputWidth          int       `yaml:"input_width"`
	BulkEpochs          int       `yaml:"bulk_epochs"`
	BulkBatchSize       int       `yaml:"bulk_batch_size"`
	BatchSize           int       `yaml:"batch_size"`
	MaxIterations       int       `yaml:"max_iterations"`
	EvalEvery           int       `yaml:"eval_every"`
	LossPlotIteration   int       `yaml:"loss_plot_iteration"`
	CheckpointThreshold float64   `yaml:"checkpoint_threshold"`
	NormalizeConfusion  bool      `yaml:"normalize_confusion"`
	ShufflePartitions   bool      `yaml:"shuffle_partitions"`
	Seed                int64     `yaml:"seed"`
	Optimizer           Optimizer `yaml:"optimizer"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataPath      string
	OutputDir     string
	MaxIterations int
	BatchSize     int
	EvalEvery     int
	Seed          int64
}

// Default returns the configuration of the reference genre run.
func Default() *Config {
	return &Config{
		DataPath:            "melspects.npz",
		OutputDir:           ".",
		Labels:              append([]string(nil), DefaultLabels...),
		InputHeight:         64,
		InputWidth:          173,
		BulkEpochs:          15,
		BulkBatchSize:       16,
		BatchSize:           100,
		MaxIterations:       300,
		EvalEvery:           1,
		LossPlotIteration:   15,
		CheckpointThreshold: 0.81,
		NormalizeConfusion:  true,
		ShufflePartitions:   true,
		Seed:                42,
		Optimizer: Optimizer{
			LearningRate: 0.001,
			Beta1:        0.9,
			Beta2:        0.999,
			Epsilon:      1e-8,
			Decay:        0,
		},
	}
}

// Load reads a Config from YAML on top of Default and validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataPath != "" {
		c.DataPath = o.DataPath
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.MaxIterations > 0 {
		c.MaxIterations = o.MaxIterations
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.EvalEvery > 0 {
		c.EvalEvery = o.EvalEvery
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DataPath == "" {
		return errors.New("data_path must be set")
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if len(c.Labels) < 2 {
		return fmt.Errorf("labels must name at least 2 classes (got %d)", len(c.Labels))
	}
	if c.InputHeight <= 0 || c.InputWidth <= 0 {
		return fmt.Errorf("input shape must be positive (got %dx%d)", c.InputHeight, c.InputWidth)
	}
	if c.BulkEpochs < 0 {
		return fmt.Errorf("bulk_epochs must be >= 0 (got %d)", c.BulkEpochs)
	}
	if c.BulkBatchSize <= 0 {
		return fmt.Errorf("bulk_batch_size must be > 0 (got %d)", c.BulkBatchSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be > 0 (got %d)", c.MaxIterations)
	}
	if c.EvalEvery <= 0 {
		c.EvalEvery = 1
	}
	if c.CheckpointThreshold < 0 || c.CheckpointThreshold > 1 {
		return fmt.Errorf("checkpoint_threshold must be within [0,1] (got %g)", c.CheckpointThreshold)
	}
	o := c.Optimizer
	if o.LearningRate <= 0 {
		return fmt.Errorf("optimizer.learning_rate must be > 0 (got %g)", o.LearningRate)
	}
	if o.Beta1 < 0 || o.Beta1 >= 1 || o.Beta2 < 0 || o.Beta2 >= 1 {
		return fmt.Errorf("optimizer betas must be within [0,1) (got %g, %g)", o.Beta1, o.Beta2)
	}
	if o.Epsilon <= 0 {
		return fmt.Errorf("optimizer.epsilon must be > 0 (got %g)", o.Epsilon)
	}
	if o.Decay < 0 {
		return fmt.Errorf("optimizer.decay must be >= 0 (got %g)", o.Decay)
	}
	return nil
}

func parseYAML(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
