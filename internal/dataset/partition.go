package dataset

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// Shape is the spatial layout of one sample. Channels is always 1 for
// spectrogram input; it is kept explicit so the model sees h x w x c.
type Shape struct {
	Height   int
	Width    int
	Channels int
}

// Size returns the flattened sample length.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Channels)
}

// Partition is one aligned split of features and integer labels.
type Partition struct {
	Name     string
	Features [][]float64
	Labels   []int
}

// Len reports the sample count.
func (p Partition) Len() int {
	return len(p.Features)
}

// Validate checks feature/label alignment and per-sample length.
func (p Partition) Validate(shape Shape) error {
	if len(p.Features) != len(p.Labels) {
		return errors.Wrapf(ErrShapeMismatch, "%s has %d samples but %d labels", p.Name, len(p.Features), len(p.Labels))
	}
	for i, f := range p.Features {
		if len(f) != shape.Size() {
			return errors.Wrapf(ErrShapeMismatch, "%s sample %d has %d values, want %d", p.Name, i, len(f), shape.Size())
		}
	}
	return nil
}

// Shuffle co-permutes features and labels in place so every feature keeps
// its label.
func (p Partition) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(p.Features), func(i, j int) {
		p.Features[i], p.Features[j] = p.Features[j], p.Features[i]
		p.Labels[i], p.Labels[j] = p.Labels[j], p.Labels[i]
	})
}

// Batches splits p into floor(n/size) contiguous batches of exactly size
// samples. Trailing samples that do not fill a batch are left out. The
// batches share backing arrays with p.
func (p Partition) Batches(size int) []Partition {
	if size <= 0 {
		return nil
	}
	count := p.Len() / size
	out := make([]Partition, 0, count)
	for b := 0; b < count; b++ {
		lo, hi := b*size, (b+1)*size
		out = append(out, Partition{
			Name:     p.Name,
			Features: p.Features[lo:hi:hi],
			Labels:   p.Labels[lo:hi:hi],
		})
	}
	return out
}

// OneHot encodes the partition labels with width numClasses.
func (p Partition) OneHot(numClasses int) ([][]float64, error) {
	return OneHot(p.Labels, numClasses)
}

// OneHot returns one indicator row per label with a single 1 at the label
// index.
func OneHot(labels []int, numClasses int) ([][]float64, error) {
	if numClasses <= 0 {
		return nil, errors.Errorf("one-hot: class count must be > 0 (got %d)", numClasses)
	}
	backing := make([]float64, len(labels)*numClasses)
	rows := make([][]float64, len(labels))
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, errors.Wrapf(ErrLabelRange, "label %d at row %d outside [0,%d)", label, i, numClasses)
		}
		row := backing[i*numClasses : (i+1)*numClasses : (i+1)*numClasses]
		row[label] = 1
		rows[i] = row
	}
	return rows, nil
}

// Partitioned holds the three splits of the archive.
type Partitioned struct {
	Shape      Shape
	Train      Partition
	Validation Partition
	Test       Partition
}

// NumClasses returns max(label)+1 across all partitions.
func (d *Partitioned) NumClasses() int {
	maxLabel := -1
	for _, p := range []Partition{d.Train, d.Validation, d.Test} {
		for _, l := range p.Labels {
			if l > maxLabel {
				maxLabel = l
			}
		}
	}
	return maxLabel + 1
}

// ShuffleAll shuffles every partition independently.
func (d *Partitioned) ShuffleAll(rng *rand.Rand) {
	d.Train.Shuffle(rng)
	d.Test.Shuffle(rng)
	d.Validation.Shuffle(rng)
}
