package noise

import (
	"gonum.org/v1/gonum/mat"
)

// None is a noise source that generates no noise: its mean vector and its
// covariance matrix have zero size.
type None struct{}

// NewNone creates new None noise and returns it
func NewNone() (*None, error) {
	return &None{}, nil
}

// Sample returns zero size vector.
func (e *None) Sample() mat.Vector {
	return &mat.VecDense{}
}

// Cov returns zero size covariance matrix.
func (e *None) Cov() mat.Symmetric {
	return &mat.SymDense{}
}

// Mean returns nil mean.
func (e *None) Mean() []float64 {
	return nil
}

// Reset does nothing: it's here to implement the Noise interface
func (e *None) Reset() {}

// String implements the Stringer interface.
func (e *None) String() string {
	return "None{}"
}
