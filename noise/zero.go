package noise

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Zero is zero-mean noise with zero covariance: every sample is a zero
// vector of the requested dimension.
type Zero struct {
	// mean is Zero noise mean
	mean []float64
	// cov is Zero noise covariance
	cov *mat.SymDense
}

// NewZero creates new Zero noise of the given dimension and returns it.
// It returns error if dim is not a positive integer.
func NewZero(dim int) (*Zero, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid noise dimension: %d", dim)
	}

	return &Zero{
		mean: make([]float64, dim),
		cov:  mat.NewSymDense(dim, nil),
	}, nil
}

// Sample returns zero vector.
func (z *Zero) Sample() mat.Vector {
	return mat.NewVecDense(len(z.mean), nil)
}

// Cov returns zero covariance matrix.
func (z *Zero) Cov() mat.Symmetric {
	cov := mat.NewSymDense(z.cov.SymmetricDim(), nil)
	cov.CopySym(z.cov)

	return cov
}

// Mean returns Zero noise mean.
func (z *Zero) Mean() []float64 {
	m := make([]float64, len(z.mean))
	copy(m, z.mean)

	return m
}

// Reset does nothing: it's here to implement the Noise interface
func (z *Zero) Reset() {}

// String implements the Stringer interface.
func (z *Zero) String() string {
	return fmt.Sprintf("Zero{\nMean=%v\nCov=%v\n}", z.mean, mat.Formatted(z.cov, mat.Prefix("    "), mat.Squeeze()))
}
