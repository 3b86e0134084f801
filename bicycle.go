package bicycle

import "gonum.org/v1/gonum/mat"

// System is a linearized model of a dynamical system.
type System interface {
	// Propagate propagates internal state of the system to the next step
	// given input u. u may be nil if the system accepts no input.
	Propagate(x, u mat.Vector) (mat.Vector, error)
	// Observe observes external state (output) of the system
	Observe(x, u mat.Vector) (mat.Vector, error)
	// SystemDims returns state, input, output and second order
	// coordinate dimensions of the model
	SystemDims() (nx, nu, ny, no int)
	// NormalizeState wraps angular state components so they do not grow
	// without bound; non-angular components pass through unchanged
	NormalizeState(x mat.Vector) mat.Vector
	// NormalizeOutput wraps angular output components
	NormalizeOutput(y mat.Vector) mat.Vector
}

// DiscreteSystem is a System whose state is advanced by discrete-time
// propagation and observation matrices valid for a fixed sample time.
type DiscreteSystem interface {
	// System is a model of a dynamical system
	System
	// SystemMatrix returns discrete state propagation matrix
	SystemMatrix() mat.Matrix
	// ControlMatrix returns discrete state propagation control matrix
	ControlMatrix() mat.Matrix
	// OutputMatrix returns observation matrix
	OutputMatrix() mat.Matrix
	// FeedForwardMatrix returns observation control matrix
	FeedForwardMatrix() mat.Matrix
	// SampleTime returns the sample time the discrete matrices were
	// computed for
	SampleTime() float64
}

// InitCond is initial state condition of an observer
type InitCond interface {
	// State returns initial observer state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Reset resets the noise
	Reset()
}
