package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Conv2D is a stride-1, valid-padding convolution followed by ReLU. Each
// sample is unrolled with im2col and multiplied against the kernel matrix.
type Conv2D struct {
	name   string
	in     Shape
	out    Shape
	kh, kw int
	kernel *Param // kh x kw x in.C x filters
	bias   *Param

	x, y  *Tensor
	cols  []float64
	dcols []float64
}

// NewConv2D builds a convolution over inputs of shape in.
func NewConv2D(name string, in Shape, filters, kh, kw int, l2 float64, rng *rand.Rand) (*Conv2D, error) {
	if filters <= 0 || kh <= 0 || kw <= 0 {
		return nil, fmt.Errorf("%w: %s needs positive filters and kernel, got %d %dx%d", ErrShape, name, filters, kh, kw)
	}
	out := Shape{H: in.H - kh + 1, W: in.W - kw + 1, C: filters}
	if out.H <= 0 || out.W <= 0 || in.C <= 0 {
		return nil, fmt.Errorf("%w: %s kernel %dx%d does not fit input %v", ErrShape, name, kh, kw, in)
	}
	c := &Conv2D{
		name:   name,
		in:     in,
		out:    out,
		kh:     kh,
		kw:     kw,
		kernel: newParam(name+"/kernel", l2, kh, kw, in.C, filters),
		bias:   newParam(name+"/bias", 0, filters),
	}
	glorotUniform(c.kernel.Value, kh*kw*in.C, kh*kw*filters, rng)
	positions := out.H * out.W
	c.cols = make([]float64, positions*c.patch())
	c.dcols = make([]float64, positions*c.patch())
	return c, nil
}

func (c *Conv2D) Name() string       { return c.name }
func (c *Conv2D) OutputShape() Shape { return c.out }
func (c *Conv2D) Params() []*Param   { return []*Param{c.kernel, c.bias} }

func (c *Conv2D) patch() int {
	return c.kh * c.kw * c.in.C
}

// im2col fills c.cols with one kernel-sized patch per output position.
func (c *Conv2D) im2col(sample []float64) {
	patch := c.patch()
	rowLen := c.kw * c.in.C
	stride := c.in.W * c.in.C
	for oy := 0; oy < c.out.H; oy++ {
		for ox := 0; ox < c.out.W; ox++ {
			dst := c.cols[(oy*c.out.W+ox)*patch:]
			for ky := 0; ky < c.kh; ky++ {
				src := (oy+ky)*stride + ox*c.in.C
				copy(dst[ky*rowLen:(ky+1)*rowLen], sample[src:src+rowLen])
			}
		}
	}
}

// col2im scatters c.dcols back onto the input gradient of one sample.
func (c *Conv2D) col2im(dst []float64) {
	patch := c.patch()
	rowLen := c.kw * c.in.C
	stride := c.in.W * c.in.C
	for oy := 0; oy < c.out.H; oy++ {
		for ox := 0; ox < c.out.W; ox++ {
			src := c.dcols[(oy*c.out.W+ox)*patch:]
			for ky := 0; ky < c.kh; ky++ {
				at := (oy+ky)*stride + ox*c.in.C
				floats.Add(dst[at:at+rowLen], src[ky*rowLen:(ky+1)*rowLen])
			}
		}
	}
}

func (c *Conv2D) Forward(x *Tensor, training bool) *Tensor {
	c.x = x
	y := NewTensor(x.N, c.out)
	positions := c.out.H * c.out.W
	kernel := mat.NewDense(c.patch(), c.out.C, c.kernel.Value)
	cols := mat.NewDense(positions, c.patch(), c.cols)
	for s := 0; s < x.N; s++ {
		c.im2col(x.Sample(s))
		out := mat.NewDense(positions, c.out.C, y.Sample(s))
		out.Mul(cols, kernel)
	}
	filters := c.out.C
	for i, v := range y.Data {
		v += c.bias.Value[i%filters]
		if v < 0 {
			v = 0
		}
		y.Data[i] = v
	}
	c.y = y
	return y
}

func (c *Conv2D) Backward(grad *Tensor) *Tensor {
	filters := c.out.C
	g := make([]float64, len(grad.Data))
	for i, v := range grad.Data {
		if c.y.Data[i] > 0 {
			g[i] = v
			c.bias.Grad[i%filters] += v
		}
	}

	dx := NewTensor(grad.N, c.in)
	positions := c.out.H * c.out.W
	block := positions * filters
	kernel := mat.NewDense(c.patch(), filters, c.kernel.Value)
	dKernel := mat.NewDense(c.patch(), filters, c.kernel.Grad)
	cols := mat.NewDense(positions, c.patch(), c.cols)
	dcols := mat.NewDense(positions, c.patch(), c.dcols)
	var tmp mat.Dense
	for s := 0; s < grad.N; s++ {
		c.im2col(c.x.Sample(s))
		gs := mat.NewDense(positions, filters, g[s*block:(s+1)*block])
		tmp.Mul(cols.T(), gs)
		dKernel.Add(dKernel, &tmp)
		dcols.Mul(gs, kernel.T())
		c.col2im(dx.Sample(s))
	}
	return dx
}
