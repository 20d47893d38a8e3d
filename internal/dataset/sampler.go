package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Sampler produces a fresh shuffle and mini-batch split of a partition for
// each outer training iteration.
type Sampler struct {
	rng       *rand.Rand
	batchSize int
}

// NewSampler builds a Sampler seeded for reproducible shuffles.
func NewSampler(seed int64, batchSize int) (*Sampler, error) {
	if batchSize <= 0 {
		return nil, errors.New("sampler: batch size must be > 0")
	}
	if seed == 0 {
		seed = 42
	}
	return &Sampler{rng: rand.New(rand.NewSource(seed)), batchSize: batchSize}, nil
}

// BatchSize reports the configured mini-batch size.
func (s *Sampler) BatchSize() int {
	return s.batchSize
}

// Next shuffles p in place and returns its whole mini-batches.
func (s *Sampler) Next(p Partition) []Partition {
	p.Shuffle(s.rng)
	return p.Batches(s.batchSize)
}
