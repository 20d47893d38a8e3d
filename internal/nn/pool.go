package nn

import (
	"fmt"
	"math"
)

// MaxPool2D takes the maximum over non-overlapping ph x pw windows. Rows and
// columns that do not fill a window are dropped.
type MaxPool2D struct {
	name   string
	in     Shape
	out    Shape
	ph, pw int
	argmax []int
}

// NewMaxPool2D builds a pooling layer over inputs of shape in.
func NewMaxPool2D(name string, in Shape, ph, pw int) (*MaxPool2D, error) {
	if ph <= 0 || pw <= 0 {
		return nil, fmt.Errorf("%w: %s pool size %dx%d", ErrShape, name, ph, pw)
	}
	out := Shape{H: in.H / ph, W: in.W / pw, C: in.C}
	if out.H == 0 || out.W == 0 {
		return nil, fmt.Errorf("%w: %s pool %dx%d larger than input %v", ErrShape, name, ph, pw, in)
	}
	return &MaxPool2D{name: name, in: in, out: out, ph: ph, pw: pw}, nil
}

func (p *MaxPool2D) Name() string       { return p.name }
func (p *MaxPool2D) OutputShape() Shape { return p.out }
func (p *MaxPool2D) Params() []*Param   { return nil }

func (p *MaxPool2D) Forward(x *Tensor, training bool) *Tensor {
	y := NewTensor(x.N, p.out)
	if cap(p.argmax) < len(y.Data) {
		p.argmax = make([]int, len(y.Data))
	}
	p.argmax = p.argmax[:len(y.Data)]
	inSize := p.in.Size()
	channels := p.in.C
	o := 0
	for s := 0; s < x.N; s++ {
		base := s * inSize
		for oy := 0; oy < p.out.H; oy++ {
			for ox := 0; ox < p.out.W; ox++ {
				for ch := 0; ch < channels; ch++ {
					best := math.Inf(-1)
					bestIdx := -1
					for py := 0; py < p.ph; py++ {
						row := base + (oy*p.ph+py)*p.in.W*channels
						for px := 0; px < p.pw; px++ {
							idx := row + (ox*p.pw+px)*channels + ch
							if v := x.Data[idx]; v > best || bestIdx < 0 {
								best, bestIdx = v, idx
							}
						}
					}
					y.Data[o] = best
					p.argmax[o] = bestIdx
					o++
				}
			}
		}
	}
	return y
}

func (p *MaxPool2D) Backward(grad *Tensor) *Tensor {
	dx := NewTensor(grad.N, p.in)
	for i, g := range grad.Data {
		dx.Data[p.argmax[i]] += g
	}
	return dx
}
