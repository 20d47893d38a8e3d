// Package nn is a small CPU layer engine for convolutional classifiers.
// Tensors are stored batch-major in NHWC (channels last) order, so a
// flattened sample keeps (h, w, c) ordering.
package nn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShape is returned when a layer cannot accept an input shape.
var ErrShape = errors.New("nn: shape mismatch")

// Shape is the per-sample layout: height, width, channels.
type Shape struct {
	H, W, C int
}

// Size returns the flattened sample length.
func (s Shape) Size() int {
	return s.H * s.W * s.C
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.H, s.W, s.C)
}

// Tensor is a batch of N samples stored contiguously.
type Tensor struct {
	N     int
	Shape Shape
	Data  []float64
}

// NewTensor allocates a zeroed tensor.
func NewTensor(n int, s Shape) *Tensor {
	return &Tensor{N: n, Shape: s, Data: make([]float64, n*s.Size())}
}

// FromRows copies flattened samples into a tensor of shape s.
func FromRows(rows [][]float64, s Shape) (*Tensor, error) {
	t := NewTensor(len(rows), s)
	size := s.Size()
	for i, row := range rows {
		if len(row) != size {
			return nil, fmt.Errorf("%w: sample %d has %d values, want %d for %v", ErrShape, i, len(row), size, s)
		}
		copy(t.Data[i*size:(i+1)*size], row)
	}
	return t, nil
}

// Sample returns a view of sample i.
func (t *Tensor) Sample(i int) []float64 {
	size := t.Shape.Size()
	return t.Data[i*size : (i+1)*size : (i+1)*size]
}

// Rows returns views of every sample.
func (t *Tensor) Rows() [][]float64 {
	out := make([][]float64, t.N)
	for i := range out {
		out[i] = t.Sample(i)
	}
	return out
}

// Matrix views the tensor as an N x Size matrix without copying.
func (t *Tensor) Matrix() *mat.Dense {
	return mat.NewDense(t.N, t.Shape.Size(), t.Data)
}
