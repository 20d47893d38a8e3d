package nn

import "math"

// Adam implements the Adam update with bias correction folded into the
// step size and an optional time-based learning-rate decay.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	Decay        float64

	iterations int
	m, v       map[*Param][]float64
}

// NewAdam builds an optimizer with the given hyperparameters.
func NewAdam(lr, beta1, beta2, epsilon, decay float64) *Adam {
	return &Adam{
		LearningRate: lr,
		Beta1:        beta1,
		Beta2:        beta2,
		Epsilon:      epsilon,
		Decay:        decay,
		m:            make(map[*Param][]float64),
		v:            make(map[*Param][]float64),
	}
}

// Iterations reports how many steps have been applied.
func (a *Adam) Iterations() int {
	return a.iterations
}

// Step applies one update to every trainable parameter using its
// accumulated gradient. Gradients are left for the caller to clear.
func (a *Adam) Step(params []*Param) {
	lr := a.LearningRate
	if a.Decay > 0 {
		lr /= 1 + a.Decay*float64(a.iterations)
	}
	a.iterations++
	t := float64(a.iterations)
	lrT := lr * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for _, p := range params {
		if !p.Trainable() {
			continue
		}
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, len(p.Value))
			a.m[p] = m
			a.v[p] = make([]float64, len(p.Value))
		}
		v := a.v[p]
		for i, g := range p.Grad {
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			p.Value[i] -= lrT * m[i] / (math.Sqrt(v[i]) + a.Epsilon)
		}
	}
}
