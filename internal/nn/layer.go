package nn

import (
	"math"
	"math/rand"
)

// Layer is one stage of a sequential network. Layers are built for a fixed
// input shape. Forward caches what Backward needs, so Backward must follow a
// training-mode Forward on the same batch. Backward accumulates parameter
// gradients and returns the gradient with respect to the layer input.
type Layer interface {
	Name() string
	OutputShape() Shape
	Forward(x *Tensor, training bool) *Tensor
	Backward(grad *Tensor) *Tensor
	Params() []*Param
}

// Param is a named parameter. State that is not learned by gradient
// descent, such as batch-norm moving statistics, has a nil Grad.
type Param struct {
	Name  string
	Dims  []int
	Value []float64
	Grad  []float64
	L2    float64
}

func newParam(name string, l2 float64, dims ...int) *Param {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return &Param{
		Name:  name,
		Dims:  dims,
		Value: make([]float64, n),
		Grad:  make([]float64, n),
		L2:    l2,
	}
}

func newState(name string, dims ...int) *Param {
	p := newParam(name, 0, dims...)
	p.Grad = nil
	return p
}

// Trainable reports whether the optimizer updates p.
func (p *Param) Trainable() bool {
	return p.Grad != nil
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// L2Penalty returns sum(l2 * w^2) over regularized parameters.
func L2Penalty(params []*Param) float64 {
	total := 0.0
	for _, p := range params {
		if p.L2 == 0 {
			continue
		}
		sum := 0.0
		for _, w := range p.Value {
			sum += w * w
		}
		total += p.L2 * sum
	}
	return total
}

// AddL2Grad adds the gradient of L2Penalty to each regularized parameter.
func AddL2Grad(params []*Param) {
	for _, p := range params {
		if p.L2 == 0 || !p.Trainable() {
			continue
		}
		scale := 2 * p.L2
		for i, w := range p.Value {
			p.Grad[i] += scale * w
		}
	}
}

func glorotUniform(dst []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range dst {
		dst[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Sequential chains layers, each built on the previous output shape.
type Sequential struct {
	input  Shape
	layers []Layer
}

// NewSequential starts an empty network for samples of shape input.
func NewSequential(input Shape) *Sequential {
	return &Sequential{input: input}
}

// Add appends a layer.
func (s *Sequential) Add(l Layer) {
	s.layers = append(s.layers, l)
}

// Layers returns the layers in order.
func (s *Sequential) Layers() []Layer {
	return s.layers
}

// InputShape returns the expected sample shape.
func (s *Sequential) InputShape() Shape {
	return s.input
}

// OutputShape returns the shape produced by the last layer.
func (s *Sequential) OutputShape() Shape {
	if len(s.layers) == 0 {
		return s.input
	}
	return s.layers[len(s.layers)-1].OutputShape()
}

// Forward runs x through every layer.
func (s *Sequential) Forward(x *Tensor, training bool) *Tensor {
	for _, l := range s.layers {
		x = l.Forward(x, training)
	}
	return x
}

// Backward propagates grad from the output back to the input.
func (s *Sequential) Backward(grad *Tensor) *Tensor {
	for i := len(s.layers) - 1; i >= 0; i-- {
		grad = s.layers[i].Backward(grad)
	}
	return grad
}

// Params returns every parameter, trainable or not, in layer order.
func (s *Sequential) Params() []*Param {
	var out []*Param
	for _, l := range s.layers {
		out = append(out, l.Params()...)
	}
	return out
}

// ZeroGrad clears all accumulated gradients.
func (s *Sequential) ZeroGrad() {
	for _, p := range s.Params() {
		p.ZeroGrad()
	}
}
