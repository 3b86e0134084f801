package kalman

import (
	"fmt"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"

	bicycle "github.com/milosgajdos/go-bicycle"
	"github.com/milosgajdos/go-bicycle/noise"
)

// KF is a discrete-time Kalman filter estimating the state of a
// bicycle.DiscreteSystem from noisy measurements. It is driven once per
// sample period by TimeUpdate followed by MeasurementUpdate.
type KF struct {
	// sys is the observed system model
	sys bicycle.DiscreteSystem
	// q is state noise a.k.a. process noise
	q bicycle.Noise
	// r is output noise a.k.a. measurement noise
	r bicycle.Noise
	// x is the state estimate
	x *mat.VecDense
	// p is the error covariance matrix
	p *mat.SymDense
	// k is the most recent Kalman gain
	k *mat.Dense
}

// New creates a new KF observing sys and returns it.
// It accepts the following parameters:
//   - sys:  discrete-time system model
//   - init: initial state estimate and error covariance
//   - q:    process noise; nil means no process noise
//   - r:    measurement noise; nil means no measurement noise
//
// It returns error if the model dimensions are not positive integers or if
// either noise covariance does not match the model dimensions.
func New(sys bicycle.DiscreteSystem, init bicycle.InitCond, q, r bicycle.Noise) (*KF, error) {
	nx, _, ny, _ := sys.SystemDims()
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: [%d x %d]", nx, ny)
	}

	if q != nil {
		if dim := q.Cov().SymmetricDim(); dim > 0 && dim != nx {
			return nil, fmt.Errorf("invalid process noise dimension: %d != %d", dim, nx)
		}
	} else {
		q, _ = noise.NewNone()
	}

	if r != nil {
		if dim := r.Cov().SymmetricDim(); dim > 0 && dim != ny {
			return nil, fmt.Errorf("invalid measurement noise dimension: %d != %d", dim, ny)
		}
	} else {
		r, _ = noise.NewNone()
	}

	rows, cols := sys.OutputMatrix().Dims()
	if rows != ny || cols != nx {
		return nil, fmt.Errorf("invalid observation matrix dimensions: [%d x %d]", rows, cols)
	}

	if init.State().Len() != nx || init.Cov().SymmetricDim() != nx {
		return nil, fmt.Errorf("invalid initial condition dimensions")
	}

	x := &mat.VecDense{}
	x.CloneFromVec(init.State())

	p := mat.NewSymDense(nx, nil)
	p.CopySym(init.Cov())

	return &KF{
		sys: sys,
		q:   q,
		r:   r,
		x:   x,
		p:   p,
		k:   mat.NewDense(nx, ny, nil),
	}, nil
}

// TimeUpdate propagates the state estimate and error covariance one sample
// period forward given input u. u may be nil if no input is applied.
// It returns error if the state propagation fails.
func (f *KF) TimeUpdate(u mat.Vector) error {
	return f.timeUpdate(u, f.q.Cov())
}

// TimeUpdateWithCov is TimeUpdate with the stored process noise covariance
// overridden by q for this call only.
func (f *KF) TimeUpdateWithCov(u mat.Vector, q mat.Symmetric) error {
	nx, _, _, _ := f.sys.SystemDims()
	if q == nil || q.SymmetricDim() != nx {
		return fmt.Errorf("invalid process noise covariance")
	}

	return f.timeUpdate(u, q)
}

func (f *KF) timeUpdate(u mat.Vector, q mat.Symmetric) error {
	xNext, err := f.sys.Propagate(f.x, u)
	if err != nil {
		return fmt.Errorf("state propagation failed: %v", err)
	}

	// P = A*P*A' + Q
	a := f.sys.SystemMatrix()
	cov := &mat.Dense{}
	cov.Mul(a, f.p)
	cov.Mul(cov, a.T())
	if q.SymmetricDim() > 0 {
		cov.Add(cov, q)
	}

	f.x.CopyVec(xNext)
	copySym(f.p, cov)

	return nil
}

// MeasurementUpdate corrects the state estimate and error covariance with
// measurement z. The Kalman gain is computed from a Cholesky solve of the
// innovation covariance S = C*P*C' + R rather than an explicit inverse.
// It returns error if z has invalid dimensions or if S is not positive
// definite: the latter indicates misconfigured noise covariances and is not
// recoverable here.
func (f *KF) MeasurementUpdate(z mat.Vector) error {
	return f.measurementUpdate(z, f.r.Cov())
}

// MeasurementUpdateWithCov is MeasurementUpdate with the stored measurement
// noise covariance overridden by r for this call only.
func (f *KF) MeasurementUpdateWithCov(z mat.Vector, r mat.Symmetric) error {
	_, _, ny, _ := f.sys.SystemDims()
	if r == nil || r.SymmetricDim() != ny {
		return fmt.Errorf("invalid measurement noise covariance")
	}

	return f.measurementUpdate(z, r)
}

func (f *KF) measurementUpdate(z mat.Vector, r mat.Symmetric) error {
	nx, _, ny, _ := f.sys.SystemDims()
	if z.Len() != ny {
		return fmt.Errorf("invalid measurement vector length: %d", z.Len())
	}

	c := f.sys.OutputMatrix()

	// P*C'
	pct := &mat.Dense{}
	pct.Mul(f.p, c.T())

	// S = C*P*C' + R
	s := &mat.Dense{}
	s.Mul(c, pct)
	if r.SymmetricDim() > 0 {
		s.Add(s, r)
	}
	sSym := mat.NewSymDense(ny, nil)
	copySym(sSym, s)

	var chol mat.Cholesky
	if ok := chol.Factorize(sSym); !ok {
		return fmt.Errorf("innovation covariance is not positive definite")
	}

	// K = P*C'*S^-1 obtained by solving S*K' = (P*C')'
	kt := &mat.Dense{}
	if err := chol.SolveTo(kt, pct.T()); err != nil {
		return fmt.Errorf("failed to compute Kalman gain: %v", err)
	}
	f.k.Copy(kt.T())

	// x = x + K*(z - C*x)
	y, err := f.sys.Observe(f.x, nil)
	if err != nil {
		return fmt.Errorf("failed to observe system output: %v", err)
	}
	inn := &mat.VecDense{}
	inn.SubVec(z, y)
	corr := &mat.VecDense{}
	corr.MulVec(f.k, inn)
	f.x.AddVec(f.x, corr)

	// P = (I - K*C)*P
	eye, err := matrix.NewDenseValIdentity(nx, 1.0)
	if err != nil {
		return fmt.Errorf("failed to build identity: %v", err)
	}
	kc := &mat.Dense{}
	kc.Mul(f.k, c)
	kc.Sub(eye, kc)
	pNext := &mat.Dense{}
	pNext.Mul(kc, f.p)
	copySym(f.p, pNext)

	return nil
}

// System returns the observed system model.
func (f *KF) System() bicycle.DiscreteSystem {
	return f.sys
}

// State returns the current state estimate.
func (f *KF) State() mat.Vector {
	x := &mat.VecDense{}
	x.CloneFromVec(f.x)

	return x
}

// StateSlice returns the current state estimate as a flat slice for
// telemetry consumers.
func (f *KF) StateSlice() []float64 {
	out := make([]float64, f.x.Len())
	for i := range out {
		out[i] = f.x.AtVec(i)
	}

	return out
}

// Cov returns the current error covariance.
func (f *KF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(f.p.SymmetricDim(), nil)
	cov.CopySym(f.p)

	return cov
}

// SetCov sets the error covariance matrix to cov.
// It returns error if cov is nil or does not match the filter dimensions.
func (f *KF) SetCov(cov mat.Symmetric) error {
	if cov == nil || cov.SymmetricDim() != f.p.SymmetricDim() {
		return fmt.Errorf("invalid covariance matrix")
	}
	f.p.CopySym(cov)

	return nil
}

// ProcessNoiseCov returns the stored process noise covariance.
func (f *KF) ProcessNoiseCov() mat.Symmetric {
	return f.q.Cov()
}

// MeasurementNoiseCov returns the stored measurement noise covariance.
func (f *KF) MeasurementNoiseCov() mat.Symmetric {
	return f.r.Cov()
}

// Gain returns the most recent Kalman gain.
func (f *KF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(f.k)

	return gain
}

// SampleTime returns the sample time of the observed system.
func (f *KF) SampleTime() float64 {
	return f.sys.SampleTime()
}

// copySym copies the upper triangle of m into dst, averaging mirrored
// elements so small numerical asymmetries cancel.
func copySym(dst *mat.SymDense, m mat.Matrix) {
	n := dst.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
}
