package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Activation selects the nonlinearity applied after a dense layer.
type Activation int

const (
	Linear Activation = iota
	ReLU
)

func (a Activation) String() string {
	if a == ReLU {
		return "relu"
	}
	return "linear"
}

// Dense is a fully connected layer over flattened samples.
type Dense struct {
	name   string
	inSize int
	out    Shape
	act    Activation
	kernel *Param // inSize x units
	bias   *Param

	x, y *Tensor
}

// NewDense builds a dense layer. Inputs of any shape are treated as flat.
func NewDense(name string, in Shape, units int, act Activation, l2 float64, rng *rand.Rand) (*Dense, error) {
	if units <= 0 || in.Size() <= 0 {
		return nil, fmt.Errorf("%w: %s with %d units over input %v", ErrShape, name, units, in)
	}
	d := &Dense{
		name:   name,
		inSize: in.Size(),
		out:    Shape{H: 1, W: 1, C: units},
		act:    act,
		kernel: newParam(name+"/kernel", l2, in.Size(), units),
		bias:   newParam(name+"/bias", 0, units),
	}
	glorotUniform(d.kernel.Value, in.Size(), units, rng)
	return d, nil
}

func (d *Dense) Name() string       { return d.name }
func (d *Dense) OutputShape() Shape { return d.out }
func (d *Dense) Params() []*Param   { return []*Param{d.kernel, d.bias} }

func (d *Dense) Forward(x *Tensor, training bool) *Tensor {
	d.x = x
	units := d.out.C
	y := NewTensor(x.N, d.out)
	y.Matrix().Mul(x.Matrix(), mat.NewDense(d.inSize, units, d.kernel.Value))
	for i, v := range y.Data {
		v += d.bias.Value[i%units]
		if d.act == ReLU && v < 0 {
			v = 0
		}
		y.Data[i] = v
	}
	d.y = y
	return y
}

func (d *Dense) Backward(grad *Tensor) *Tensor {
	units := d.out.C
	g := make([]float64, len(grad.Data))
	for i, v := range grad.Data {
		if d.act == ReLU && d.y.Data[i] <= 0 {
			continue
		}
		g[i] = v
		d.bias.Grad[i%units] += v
	}
	gs := mat.NewDense(grad.N, units, g)
	var tmp mat.Dense
	tmp.Mul(d.x.Matrix().T(), gs)
	dKernel := mat.NewDense(d.inSize, units, d.kernel.Grad)
	dKernel.Add(dKernel, &tmp)

	dx := &Tensor{N: grad.N, Shape: d.x.Shape, Data: make([]float64, grad.N*d.inSize)}
	dx.Matrix().Mul(gs, mat.NewDense(d.inSize, units, d.kernel.Value).T())
	return dx
}

// Flatten reshapes samples to (1, 1, h*w*c) without copying.
type Flatten struct {
	name string
	in   Shape
	out  Shape
}

// NewFlatten builds a flatten layer for inputs of shape in.
func NewFlatten(name string, in Shape) *Flatten {
	return &Flatten{name: name, in: in, out: Shape{H: 1, W: 1, C: in.Size()}}
}

func (f *Flatten) Name() string       { return f.name }
func (f *Flatten) OutputShape() Shape { return f.out }
func (f *Flatten) Params() []*Param   { return nil }

func (f *Flatten) Forward(x *Tensor, training bool) *Tensor {
	return &Tensor{N: x.N, Shape: f.out, Data: x.Data}
}

func (f *Flatten) Backward(grad *Tensor) *Tensor {
	return &Tensor{N: grad.N, Shape: f.in, Data: grad.Data}
}

// Dropout zeroes a fraction rate of activations during training and scales
// the survivors by 1/(1-rate). It is the identity at inference.
type Dropout struct {
	name  string
	shape Shape
	rate  float64
	rng   *rand.Rand
	mask  []float64
}

// NewDropout builds a dropout layer.
func NewDropout(name string, in Shape, rate float64, rng *rand.Rand) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("%s: dropout rate must be within [0,1), got %g", name, rate)
	}
	return &Dropout{name: name, shape: in, rate: rate, rng: rng}, nil
}

func (d *Dropout) Name() string       { return d.name }
func (d *Dropout) OutputShape() Shape { return d.shape }
func (d *Dropout) Params() []*Param   { return nil }

func (d *Dropout) Forward(x *Tensor, training bool) *Tensor {
	if !training || d.rate == 0 {
		d.mask = nil
		return x
	}
	if cap(d.mask) < len(x.Data) {
		d.mask = make([]float64, len(x.Data))
	}
	d.mask = d.mask[:len(x.Data)]
	scale := 1 / (1 - d.rate)
	y := NewTensor(x.N, d.shape)
	for i, v := range x.Data {
		if d.rng.Float64() < d.rate {
			d.mask[i] = 0
		} else {
			d.mask[i] = scale
		}
		y.Data[i] = v * d.mask[i]
	}
	return y
}

func (d *Dropout) Backward(grad *Tensor) *Tensor {
	if d.mask == nil {
		return grad
	}
	dx := NewTensor(grad.N, d.shape)
	for i, g := range grad.Data {
		dx.Data[i] = g * d.mask[i]
	}
	return dx
}
