package matrix

import (
	"fmt"
	"math"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
)

// AsSymDense copies m into a new SymDense and returns it.
// It returns error if m is not a square symmetric matrix.
func AsSymDense(m mat.Matrix) (*mat.SymDense, error) {
	r, c := m.Dims()
	if r != c {
		return nil, fmt.Errorf("invalid matrix dimensions: [%d x %d]", r, c)
	}

	vals := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) != m.At(j, i) {
				return nil, fmt.Errorf("matrix is not symmetric")
			}
			vals[i*c+j] = m.At(i, j)
		}
	}

	return mat.NewSymDense(r, vals), nil
}

// IsZero returns true if every element of m is within tol of zero.
func IsZero(m mat.Matrix, tol float64) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.Abs(m.At(i, j)) > tol {
				return false
			}
		}
	}

	return true
}

// IsIdentity returns true if m is a square matrix within tol of identity.
func IsIdentity(m mat.Matrix, tol float64) bool {
	r, c := m.Dims()
	if r != c {
		return false
	}

	eye, err := matrix.NewDenseValIdentity(r, 1.0)
	if err != nil {
		return false
	}

	diff := &mat.Dense{}
	diff.Sub(m, eye)

	return IsZero(diff, tol)
}
