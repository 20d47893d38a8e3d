package model

// ConvStage is one convolution block: conv + ReLU, then optional batch
// norm, max pooling, and dropout in that order.
type ConvStage struct {
	Filters   int
	KernelH   int
	KernelW   int
	L2        float64
	BatchNorm bool
	PoolH     int
	PoolW     int
	Dropout   float64
}

// DenseStage is a ReLU dense layer with optional dropout after it.
type DenseStage struct {
	Units   int
	L2      float64
	Dropout float64
}

// Architecture describes the classifier topology. The softmax output layer
// sized to the class count is always appended after the dense stages.
type Architecture struct {
	Name  string
	Conv  []ConvStage
	Dense []DenseStage
}

// DefaultArchitecture is the three-stage genre classifier.
func DefaultArchitecture() Architecture {
	return Architecture{
		Name: "genre-cnn",
		Conv: []ConvStage{
			{Filters: 64, KernelH: 4, KernelW: 4, BatchNorm: true, PoolH: 2, PoolW: 4},
			{Filters: 64, KernelH: 3, KernelW: 5, L2: 0.04, PoolH: 2, PoolW: 2, Dropout: 0.2},
			{Filters: 64, KernelH: 2, KernelW: 2, BatchNorm: true, PoolH: 2, PoolW: 2, Dropout: 0.2},
		},
		Dense: []DenseStage{
			{Units: 64, L2: 0.04, Dropout: 0.5},
			{Units: 32, L2: 0.04},
		},
	}
}
