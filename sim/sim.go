package sim

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	bicycle "github.com/milosgajdos/go-bicycle"
)

// InitCond implements bicycle.InitCond
type InitCond struct {
	state *mat.VecDense
	cov   *mat.SymDense
}

// NewInitCond creates new InitCond and returns it
func NewInitCond(state mat.Vector, cov mat.Symmetric) *InitCond {
	s := &mat.VecDense{}
	s.CloneFromVec(state)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &InitCond{
		state: s,
		cov:   c,
	}
}

// State returns initial state
func (c *InitCond) State() mat.Vector {
	state := mat.NewVecDense(c.state.Len(), nil)
	state.CopyVec(c.state)

	return state
}

// Cov returns initial covariance
func (c *InitCond) Cov() mat.Symmetric {
	cov := mat.NewSymDense(c.cov.SymmetricDim(), nil)
	cov.CopySym(c.cov)

	return cov
}

// Trajectory holds a simulated system run. Row i of each matrix is
// sample i.
type Trajectory struct {
	// States are the true system states
	States *mat.Dense
	// Outputs are the noiseless system outputs
	Outputs *mat.Dense
	// Measurements are outputs corrupted by measurement noise
	Measurements *mat.Dense
}

// Run simulates sys for steps sample periods starting from x0 under
// constant input u (nil for no input), corrupting each output with a
// sample of wn, and returns the resulting trajectory. The first row holds
// the initial state and its output.
// It returns error if steps is not positive or if propagation or
// observation fail.
func Run(sys bicycle.System, x0 mat.Vector, u mat.Vector, wn bicycle.Noise, steps int) (*Trajectory, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("invalid number of steps: %d", steps)
	}

	nx, _, ny, _ := sys.SystemDims()
	if x0.Len() != nx {
		return nil, fmt.Errorf("invalid initial state length: %d", x0.Len())
	}

	tr := &Trajectory{
		States:       mat.NewDense(steps, nx, nil),
		Outputs:      mat.NewDense(steps, ny, nil),
		Measurements: mat.NewDense(steps, ny, nil),
	}

	x := mat.VecDenseCopyOf(x0)
	for i := 0; i < steps; i++ {
		if i > 0 {
			next, err := sys.Propagate(x, u)
			if err != nil {
				return nil, fmt.Errorf("state propagation failed at step %d: %v", i, err)
			}
			x.CopyVec(next)
		}

		y, err := sys.Observe(x, u)
		if err != nil {
			return nil, fmt.Errorf("observation failed at step %d: %v", i, err)
		}

		for j := 0; j < nx; j++ {
			tr.States.Set(i, j, x.AtVec(j))
		}
		for j := 0; j < ny; j++ {
			tr.Outputs.Set(i, j, y.AtVec(j))
			tr.Measurements.Set(i, j, y.AtVec(j))
		}

		if wn != nil {
			sample := wn.Sample()
			if sample.Len() == ny {
				for j := 0; j < ny; j++ {
					tr.Measurements.Set(i, j, y.AtVec(j)+sample.AtVec(j))
				}
			}
		}
	}

	return tr, nil
}
