package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// probEpsilon clips probabilities away from 0 and 1 before taking the log.
const probEpsilon = 1e-7

// Softmax writes the softmax of logits into dst and returns it.
func Softmax(dst, logits []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(logits))
	}
	maxLogit := floats.Max(logits)
	for i, v := range logits {
		dst[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(dst), dst)
	return dst
}

// SoftmaxCrossEntropy applies softmax to the logits and returns the mean
// categorical cross-entropy against one-hot targets, the probabilities, and
// the gradient of the mean loss with respect to the logits.
func SoftmaxCrossEntropy(logits *Tensor, targets [][]float64) (float64, *Tensor, *Tensor, error) {
	k := logits.Shape.Size()
	if len(targets) != logits.N {
		return 0, nil, nil, fmt.Errorf("%w: %d targets for %d samples", ErrShape, len(targets), logits.N)
	}
	probs := NewTensor(logits.N, logits.Shape)
	grad := NewTensor(logits.N, logits.Shape)
	inv := 1 / float64(logits.N)
	loss := 0.0
	for i, target := range targets {
		if len(target) != k {
			return 0, nil, nil, fmt.Errorf("%w: target %d has width %d, want %d", ErrShape, i, len(target), k)
		}
		p := Softmax(probs.Sample(i), logits.Sample(i))
		g := grad.Sample(i)
		for j, t := range target {
			if t != 0 {
				loss -= t * math.Log(math.Min(math.Max(p[j], probEpsilon), 1-probEpsilon))
			}
			g[j] = (p[j] - t) * inv
		}
	}
	return loss * inv, probs, grad, nil
}

// ArgMax returns the index of the largest value.
func ArgMax(v []float64) int {
	return floats.MaxIdx(v)
}
