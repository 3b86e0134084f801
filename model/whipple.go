package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Whipple is the fully dynamic variant of the bicycle model: in addition to
// discrete-time propagation it integrates the continuous-time equations of
// motion directly.
type Whipple struct {
	*Bicycle

	integrator *dopri5
}

// NewWhipple creates a new Whipple model from physical parameters p,
// forward speed v and sample time dt and returns it.
func NewWhipple(p Params, v, dt float64) (*Whipple, error) {
	b, err := New(p, v, dt)
	if err != nil {
		return nil, err
	}

	return &Whipple{
		Bicycle:    b,
		integrator: newDopri5(stateSize),
	}, nil
}

// Integrate integrates the continuous-time dynamics dx/dt = A*x + B*u over
// a span t and returns the resulting state. u may be nil and is held
// constant over the span. B is not applied explicitly: as B = [0; M^-1],
// the product B*u is obtained from the Cholesky factorization of M.
// It returns error if x or u have invalid dimensions.
func (w *Whipple) Integrate(x, u mat.Vector, t float64) (mat.Vector, error) {
	if x.Len() != stateSize {
		return nil, fmt.Errorf("invalid state vector length: %d", x.Len())
	}
	if u != nil && u.Len() != inputSize {
		return nil, fmt.Errorf("invalid input vector length: %d", u.Len())
	}

	w.recalculate()

	bu := make([]float64, stateSize)
	if u != nil {
		sol := new(mat.VecDense)
		if err := w.mChol.SolveVecTo(sol, u); err != nil {
			return nil, fmt.Errorf("failed to solve M*q = u: %v", err)
		}
		for i := 0; i < secondOrderSize; i++ {
			bu[StateRollRate+i] = sol.AtVec(i)
		}
	}

	y := StateSlice(x)
	w.integrator.Integrate(func(_ float64, y, dydt []float64) {
		for i := 0; i < stateSize; i++ {
			sum := bu[i]
			for j := 0; j < stateSize; j++ {
				sum += w.a.At(i, j) * y[j]
			}
			dydt[i] = sum
		}
	}, y, 0.0, t)

	return mat.NewVecDense(stateSize, y), nil
}
