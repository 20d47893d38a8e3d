package nn

import "math"

// Default batch-norm hyperparameters.
const (
	DefaultBNMomentum = 0.99
	DefaultBNEpsilon  = 1e-3
)

// BatchNorm normalizes each channel over the batch and spatial positions.
// Training batches update exponential moving statistics that inference
// uses instead of batch statistics.
type BatchNorm struct {
	name     string
	shape    Shape
	momentum float64
	eps      float64

	gamma, beta           *Param
	movingMean, movingVar *Param

	xhat   []float64
	invStd []float64
}

// NewBatchNorm builds a batch-norm layer with the default momentum and epsilon.
func NewBatchNorm(name string, in Shape) *BatchNorm {
	b := &BatchNorm{
		name:       name,
		shape:      in,
		momentum:   DefaultBNMomentum,
		eps:        DefaultBNEpsilon,
		gamma:      newParam(name+"/gamma", 0, in.C),
		beta:       newParam(name+"/beta", 0, in.C),
		movingMean: newState(name+"/moving_mean", in.C),
		movingVar:  newState(name+"/moving_variance", in.C),
		invStd:     make([]float64, in.C),
	}
	for c := 0; c < in.C; c++ {
		b.gamma.Value[c] = 1
		b.movingVar.Value[c] = 1
	}
	return b
}

func (b *BatchNorm) Name() string       { return b.name }
func (b *BatchNorm) OutputShape() Shape { return b.shape }

func (b *BatchNorm) Params() []*Param {
	return []*Param{b.gamma, b.beta, b.movingMean, b.movingVar}
}

func (b *BatchNorm) Forward(x *Tensor, training bool) *Tensor {
	channels := b.shape.C
	y := NewTensor(x.N, b.shape)
	if !training {
		for i, v := range x.Data {
			c := i % channels
			inv := 1 / math.Sqrt(b.movingVar.Value[c]+b.eps)
			y.Data[i] = b.gamma.Value[c]*(v-b.movingMean.Value[c])*inv + b.beta.Value[c]
		}
		return y
	}

	m := float64(len(x.Data) / channels)
	mean := make([]float64, channels)
	variance := make([]float64, channels)
	for i, v := range x.Data {
		mean[i%channels] += v
	}
	for c := range mean {
		mean[c] /= m
	}
	for i, v := range x.Data {
		d := v - mean[i%channels]
		variance[i%channels] += d * d
	}
	for c := range variance {
		variance[c] /= m
		b.invStd[c] = 1 / math.Sqrt(variance[c]+b.eps)
	}

	if cap(b.xhat) < len(x.Data) {
		b.xhat = make([]float64, len(x.Data))
	}
	b.xhat = b.xhat[:len(x.Data)]
	for i, v := range x.Data {
		c := i % channels
		b.xhat[i] = (v - mean[c]) * b.invStd[c]
		y.Data[i] = b.gamma.Value[c]*b.xhat[i] + b.beta.Value[c]
	}

	unbiased := 1.0
	if m > 1 {
		unbiased = m / (m - 1)
	}
	for c := 0; c < channels; c++ {
		b.movingMean.Value[c] = b.momentum*b.movingMean.Value[c] + (1-b.momentum)*mean[c]
		b.movingVar.Value[c] = b.momentum*b.movingVar.Value[c] + (1-b.momentum)*variance[c]*unbiased
	}
	return y
}

func (b *BatchNorm) Backward(grad *Tensor) *Tensor {
	channels := b.shape.C
	m := float64(len(grad.Data) / channels)
	sumG := make([]float64, channels)
	sumGX := make([]float64, channels)
	for i, g := range grad.Data {
		c := i % channels
		sumG[c] += g
		sumGX[c] += g * b.xhat[i]
	}
	for c := 0; c < channels; c++ {
		b.beta.Grad[c] += sumG[c]
		b.gamma.Grad[c] += sumGX[c]
	}
	dx := NewTensor(grad.N, b.shape)
	for i, g := range grad.Data {
		c := i % channels
		scale := b.gamma.Value[c] * b.invStd[c] / m
		dx.Data[i] = scale * (m*g - sumG[c] - b.xhat[i]*sumGX[c])
	}
	return dx
}
