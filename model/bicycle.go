package model

import (
	"fmt"
	"log"
	"math"

	"github.com/milosgajdos/go-bicycle/matrix"
	"gonum.org/v1/gonum/mat"
)

// discretizationPrecision is the tolerance used when validating the
// discretization matrix exponential.
const discretizationPrecision = 1e-12

// DiscreteKey identifies a (speed, sample time) operating point in a
// discrete state-space lookup table. Speed and sample time are quantized
// on construction so keys survive float round trips.
type DiscreteKey struct {
	V  int64
	Dt int64
}

// NewDiscreteKey creates a lookup key for speed v and sample time dt.
func NewDiscreteKey(v, dt float64) DiscreteKey {
	return DiscreteKey{
		V:  int64(math.Round(v * 1e9)),
		Dt: int64(math.Round(dt * 1e9)),
	}
}

// DiscreteVal holds precomputed discrete state-space matrices.
type DiscreteVal struct {
	Ad *mat.Dense
	Bd *mat.Dense
}

// DiscreteLookup maps (speed, sample time) operating points to precomputed
// discrete state-space matrices. The table is owned by the caller; the model
// only reads from it.
type DiscreteLookup map[DiscreteKey]DiscreteVal

// Bicycle models the linearized dynamics of the Whipple bicycle
// parameterized by forward speed v.
//
// State, input, output and auxiliary state are defined as:
//
//	state:     [yaw angle, roll angle, steer angle, roll rate, steer rate]
//	input:     [roll torque, steer torque]
//	output:    [yaw angle, steer angle]
//	auxiliary: [x rear contact, y rear contact, rear wheel angle, pitch angle]
//
// A Bicycle is not safe for concurrent use: accessors may recompute cached
// state-space matrices and the auxiliary integrator reuses internal scratch
// state across a single integration call.
type Bicycle struct {
	v  float64
	dt float64

	m  *mat.Dense
	c1 *mat.Dense
	k0 *mat.Dense
	k2 *mat.Dense

	w      float64
	c      float64
	lambda float64
	rr     float64
	rf     float64

	// Moore parameters, derived from geometry; feed the pitch constraint
	d1 float64
	d2 float64
	d3 float64

	recalcStateSpace bool
	recalcMoore      bool

	mChol mat.Cholesky

	a    *mat.Dense
	b    *mat.Dense
	cMat *mat.Dense
	dMat *mat.Dense
	ad   *mat.Dense
	bd   *mat.Dense

	lookup DiscreteLookup

	stepper *dopri5
}

// New creates a new Bicycle from physical parameters p, forward speed v and
// sample time dt and returns it.
// It returns error if any parameter matrix has invalid dimensions or if M
// is not symmetric positive definite.
func New(p Params, v, dt float64) (*Bicycle, error) {
	return NewWithLookup(p, v, dt, nil)
}

// NewWithLookup creates a new Bicycle which consults lookup for precomputed
// discrete state-space matrices before discretizing via the matrix
// exponential. The lookup table is borrowed, never modified.
func NewWithLookup(p Params, v, dt float64, lookup DiscreteLookup) (*Bicycle, error) {
	for _, m := range []*mat.Dense{p.M, p.C1, p.K0, p.K2} {
		if m == nil {
			return nil, fmt.Errorf("missing parameter matrix")
		}
		if r, c := m.Dims(); r != secondOrderSize || c != secondOrderSize {
			return nil, fmt.Errorf("invalid parameter matrix dimensions: [%d x %d]", r, c)
		}
	}

	b := &Bicycle{
		m:                mat.DenseCopyOf(p.M),
		c1:               mat.DenseCopyOf(p.C1),
		k0:               mat.DenseCopyOf(p.K0),
		k2:               mat.DenseCopyOf(p.K2),
		w:                p.Wheelbase,
		c:                p.Trail,
		lambda:           p.SteerAxisTilt,
		rr:               p.RearWheelRadius,
		rf:               p.FrontWheelRadius,
		recalcStateSpace: true,
		recalcMoore:      true,
		cMat:             DefaultOutputMatrix(),
		dMat:             DefaultFeedForwardMatrix(),
		a:                mat.NewDense(stateSize, stateSize, nil),
		b:                mat.NewDense(stateSize, inputSize, nil),
		ad:               mat.NewDense(stateSize, stateSize, nil),
		bd:               mat.NewDense(stateSize, inputSize, nil),
		lookup:           lookup,
		stepper:          newDopri5(auxSize),
	}

	if err := b.factorizeMass(); err != nil {
		return nil, err
	}

	b.setMooreParameters()
	b.SetSpeed(v, dt)

	return b, nil
}

// factorizeMass computes the Cholesky factorization of M used in place of
// explicit inversion when filling in the state-space matrices.
func (b *Bicycle) factorizeMass() error {
	sym, err := matrix.AsSymDense(b.m)
	if err != nil {
		return fmt.Errorf("invalid mass matrix: %v", err)
	}
	if ok := b.mChol.Factorize(sym); !ok {
		return fmt.Errorf("mass matrix is not positive definite")
	}

	return nil
}

// SetSpeed sets forward speed v and sample time dt and recomputes the
// state-space matrices. The continuous matrices A and B are parameterized
// by v; the discrete matrices Ad and Bd are computed for dt via the matrix
// exponential of the augmented system matrix, unless dt is zero in which
// case Ad is identity and Bd is zero, or a lookup table entry exists for
// (v, dt) in which case the precomputed matrices are used.
func (b *Bicycle) SetSpeed(v, dt float64) {
	if b.recalcStateSpace {
		b.initStateSpace()
	}

	b.v = v
	b.dt = dt

	// effective stiffness K = g*K0 + v^2*K2
	k := &mat.Dense{}
	k.Scale(Grav, b.k0)
	k2v := &mat.Dense{}
	k2v.Scale(v*v, b.k2)
	k.Add(k, k2v)

	// steer angle component of yaw rate
	b.a.Set(StateYawAngle, StateSteerAngle, v*math.Cos(b.lambda)/b.w)

	// M is positive definite so the Cholesky factorization is used in
	// solving the linear systems below
	sol := &mat.Dense{}
	if err := b.mChol.SolveTo(sol, k); err == nil {
		for i := 0; i < secondOrderSize; i++ {
			for j := 0; j < secondOrderSize; j++ {
				b.a.Set(StateRollRate+i, StateRollAngle+j, -sol.At(i, j))
			}
		}
	}

	vc1 := &mat.Dense{}
	vc1.Scale(v, b.c1)
	if err := b.mChol.SolveTo(sol, vc1); err == nil {
		for i := 0; i < secondOrderSize; i++ {
			for j := 0; j < secondOrderSize; j++ {
				b.a.Set(StateRollRate+i, StateRollRate+j, -sol.At(i, j))
			}
		}
	}

	// B = [0; M^-1]: the second order block is small so the explicit
	// inverse is fine
	mInv := &mat.Dense{}
	if err := mInv.Inverse(b.m); err == nil {
		for i := 0; i < secondOrderSize; i++ {
			for j := 0; j < secondOrderSize; j++ {
				b.b.Set(StateRollRate+i, j, mInv.At(i, j))
			}
		}
	}

	b.discretize(v, dt)
	b.recalcStateSpace = false
}

// initStateSpace resets the state-space matrices and fills in their
// speed-independent entries.
func (b *Bicycle) initStateSpace() {
	b.a.Zero()
	b.b.Zero()
	b.ad.Zero()
	b.bd.Zero()

	// steer rate component of yaw rate
	b.a.Set(StateYawAngle, StateSteerRate, b.c*math.Cos(b.lambda)/b.w)
	for i := 0; i < secondOrderSize; i++ {
		b.a.Set(StateRollAngle+i, StateRollRate+i, 1.0)
	}
}

func (b *Bicycle) discretize(v, dt float64) {
	if dt == 0.0 {
		// zero sample time: discrete time state does not change
		b.ad.Zero()
		for i := 0; i < stateSize; i++ {
			b.ad.Set(i, i, 1.0)
		}
		b.bd.Zero()
		return
	}

	if b.lookup != nil {
		if val, ok := b.lookup[NewDiscreteKey(v, dt)]; ok {
			b.ad.Copy(val.Ad)
			b.bd.Copy(val.Bd)
			return
		}
	}

	// exponentiate the augmented system matrix [[A, B], [0, 0]]*dt and
	// read Ad, Bd off the top block rows
	const aug = stateSize + inputSize
	at := mat.NewDense(aug, aug, nil)
	at.Slice(0, stateSize, 0, stateSize).(*mat.Dense).Copy(b.a)
	at.Slice(0, stateSize, stateSize, aug).(*mat.Dense).Copy(b.b)
	at.Scale(dt, at)

	expm := &mat.Dense{}
	expm.Exp(at)

	if !matrix.IsZero(expm.Slice(stateSize, aug, 0, stateSize), discretizationPrecision) ||
		!matrix.IsIdentity(expm.Slice(stateSize, aug, stateSize, aug), discretizationPrecision) {
		log.Printf("warning: discretization validation failed with v = %v, dt = %v: computation of Ad and Bd may be inaccurate", v, dt)
	}

	b.ad.Copy(expm.Slice(0, stateSize, 0, stateSize))
	b.bd.Copy(expm.Slice(0, stateSize, stateSize, aug))
}

// recalculate recomputes the state-space matrices if a parameter changed
// since they were last computed.
func (b *Bicycle) recalculate() {
	if b.recalcStateSpace {
		b.SetSpeed(b.v, b.dt)
	}
}

// RecalculateStateSpace recomputes the state-space matrices for the current
// speed and sample time.
func (b *Bicycle) RecalculateStateSpace() {
	b.SetSpeed(b.v, b.dt)
}

// NeedsRecalculation returns true if a physical parameter changed since the
// state-space matrices were last computed.
func (b *Bicycle) NeedsRecalculation() bool {
	return b.recalcStateSpace
}

// SetM sets the mass/inertia matrix M. If recalc is true, the state-space
// matrices are recomputed immediately, otherwise recomputation is deferred
// until the next accessor call or explicit recompute.
// It returns error if m has invalid dimensions or is not positive definite.
func (b *Bicycle) SetM(m *mat.Dense, recalc bool) error {
	if err := b.checkSecondOrder(m); err != nil {
		return err
	}

	sym, err := matrix.AsSymDense(m)
	if err != nil {
		return fmt.Errorf("invalid mass matrix: %v", err)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return fmt.Errorf("mass matrix is not positive definite")
	}

	b.m.Copy(m)
	b.mChol = chol
	b.markStateSpace(recalc)

	return nil
}

// SetC1 sets the speed-independent damping matrix C1.
func (b *Bicycle) SetC1(c1 *mat.Dense, recalc bool) error {
	if err := b.checkSecondOrder(c1); err != nil {
		return err
	}
	b.c1.Copy(c1)
	b.markStateSpace(recalc)

	return nil
}

// SetK0 sets the gravity-dependent stiffness matrix K0.
func (b *Bicycle) SetK0(k0 *mat.Dense, recalc bool) error {
	if err := b.checkSecondOrder(k0); err != nil {
		return err
	}
	b.k0.Copy(k0)
	b.markStateSpace(recalc)

	return nil
}

// SetK2 sets the speed-squared stiffness matrix K2.
func (b *Bicycle) SetK2(k2 *mat.Dense, recalc bool) error {
	if err := b.checkSecondOrder(k2); err != nil {
		return err
	}
	b.k2.Copy(k2)
	b.markStateSpace(recalc)

	return nil
}

// SetWheelbase sets the wheelbase w.
func (b *Bicycle) SetWheelbase(w float64, recalc bool) {
	b.w = w
	b.markGeometry(recalc)
}

// SetTrail sets the mechanical trail c.
func (b *Bicycle) SetTrail(c float64, recalc bool) {
	b.c = c
	b.markGeometry(recalc)
}

// SetSteerAxisTilt sets the steer axis tilt lambda.
func (b *Bicycle) SetSteerAxisTilt(lambda float64, recalc bool) {
	b.lambda = lambda
	b.markGeometry(recalc)
}

// SetRearWheelRadius sets the rear wheel radius. Wheel radii only enter the
// Moore parameters, not the state-space matrices.
func (b *Bicycle) SetRearWheelRadius(rr float64, recalc bool) {
	b.rr = rr
	b.markMoore(recalc)
}

// SetFrontWheelRadius sets the front wheel radius.
func (b *Bicycle) SetFrontWheelRadius(rf float64, recalc bool) {
	b.rf = rf
	b.markMoore(recalc)
}

// SetOutputMatrix sets the observation matrix C.
// It returns error if c has invalid dimensions.
func (b *Bicycle) SetOutputMatrix(c *mat.Dense) error {
	if r, cc := c.Dims(); r != outputSize || cc != stateSize {
		return fmt.Errorf("invalid output matrix dimensions: [%d x %d]", r, cc)
	}
	b.cMat.Copy(c)

	return nil
}

// SetFeedForwardMatrix sets the feedthrough matrix D.
// It returns error if d has invalid dimensions.
func (b *Bicycle) SetFeedForwardMatrix(d *mat.Dense) error {
	if r, c := d.Dims(); r != outputSize || c != inputSize {
		return fmt.Errorf("invalid feedthrough matrix dimensions: [%d x %d]", r, c)
	}
	b.dMat.Copy(d)

	return nil
}

func (b *Bicycle) checkSecondOrder(m *mat.Dense) error {
	if m == nil {
		return fmt.Errorf("missing parameter matrix")
	}
	if r, c := m.Dims(); r != secondOrderSize || c != secondOrderSize {
		return fmt.Errorf("invalid parameter matrix dimensions: [%d x %d]", r, c)
	}

	return nil
}

func (b *Bicycle) markStateSpace(recalc bool) {
	b.recalcStateSpace = true
	if recalc {
		b.SetSpeed(b.v, b.dt)
	}
}

func (b *Bicycle) markGeometry(recalc bool) {
	b.recalcStateSpace = true
	b.recalcMoore = true
	if recalc {
		b.setMooreParameters()
		b.SetSpeed(b.v, b.dt)
	}
}

func (b *Bicycle) markMoore(recalc bool) {
	if recalc {
		b.setMooreParameters()
		return
	}
	b.recalcMoore = true
}

// setMooreParameters computes the Moore parameters d1, d2, d3 used in the
// pitch constraint from the current geometry.
func (b *Bicycle) setMooreParameters() {
	b.d1 = math.Cos(b.lambda) * (b.c + b.w - b.rr*math.Tan(b.lambda))
	b.d3 = -math.Cos(b.lambda) * (b.c - b.rf*math.Tan(b.lambda))
	b.d2 = (b.rr + b.d1*math.Sin(b.lambda) - b.rf + b.d3*math.Sin(b.lambda)) / math.Cos(b.lambda)
	b.recalcMoore = false
}

// MooreParameters returns the Moore parameters d1, d2, d3, recomputing them
// first if the geometry changed since they were last computed.
func (b *Bicycle) MooreParameters() (d1, d2, d3 float64) {
	if b.recalcMoore {
		b.setMooreParameters()
	}

	return b.d1, b.d2, b.d3
}

// Propagate propagates state x to the next sample given input u:
// x' = Ad*x + Bd*u. u may be nil.
// It returns error if x or u have invalid dimensions.
func (b *Bicycle) Propagate(x, u mat.Vector) (mat.Vector, error) {
	if x.Len() != stateSize {
		return nil, fmt.Errorf("invalid state vector length: %d", x.Len())
	}
	if u != nil && u.Len() != inputSize {
		return nil, fmt.Errorf("invalid input vector length: %d", u.Len())
	}

	b.recalculate()

	out := new(mat.VecDense)
	out.MulVec(b.ad, x)
	if u != nil {
		outU := new(mat.VecDense)
		outU.MulVec(b.bd, u)
		out.AddVec(out, outU)
	}

	return out, nil
}

// Observe observes the model output given state x and input u:
// y = C*x + D*u. u may be nil.
// It returns error if x or u have invalid dimensions.
func (b *Bicycle) Observe(x, u mat.Vector) (mat.Vector, error) {
	if x.Len() != stateSize {
		return nil, fmt.Errorf("invalid state vector length: %d", x.Len())
	}
	if u != nil && u.Len() != inputSize {
		return nil, fmt.Errorf("invalid input vector length: %d", u.Len())
	}

	out := new(mat.VecDense)
	out.MulVec(b.cMat, x)
	if u != nil {
		outU := new(mat.VecDense)
		outU.MulVec(b.dMat, u)
		out.AddVec(out, outU)
	}

	return out, nil
}

// SystemDims returns state, input, output and second order coordinate
// dimensions of the model.
func (b *Bicycle) SystemDims() (nx, nu, ny, no int) {
	return stateSize, inputSize, outputSize, secondOrderSize
}

// AuxiliaryDim returns the auxiliary state dimension.
func (b *Bicycle) AuxiliaryDim() int {
	return auxSize
}

// Speed returns forward speed.
func (b *Bicycle) Speed() float64 {
	return b.v
}

// SampleTime returns sample time.
func (b *Bicycle) SampleTime() float64 {
	return b.dt
}

// Wheelbase returns the wheelbase.
func (b *Bicycle) Wheelbase() float64 { return b.w }

// Trail returns the mechanical trail.
func (b *Bicycle) Trail() float64 { return b.c }

// SteerAxisTilt returns the steer axis tilt.
func (b *Bicycle) SteerAxisTilt() float64 { return b.lambda }

// RearWheelRadius returns the rear wheel radius.
func (b *Bicycle) RearWheelRadius() float64 { return b.rr }

// FrontWheelRadius returns the front wheel radius.
func (b *Bicycle) FrontWheelRadius() float64 { return b.rf }

// A returns the continuous-time state matrix.
func (b *Bicycle) A() mat.Matrix {
	b.recalculate()
	return mat.DenseCopyOf(b.a)
}

// B returns the continuous-time input matrix.
func (b *Bicycle) B() mat.Matrix {
	b.recalculate()
	return mat.DenseCopyOf(b.b)
}

// C returns the observation matrix.
func (b *Bicycle) C() mat.Matrix {
	return mat.DenseCopyOf(b.cMat)
}

// D returns the feedthrough matrix.
func (b *Bicycle) D() mat.Matrix {
	return mat.DenseCopyOf(b.dMat)
}

// M returns the mass/inertia matrix.
func (b *Bicycle) M() mat.Matrix { return mat.DenseCopyOf(b.m) }

// C1 returns the speed-independent damping matrix.
func (b *Bicycle) C1() mat.Matrix { return mat.DenseCopyOf(b.c1) }

// K0 returns the gravity-dependent stiffness matrix.
func (b *Bicycle) K0() mat.Matrix { return mat.DenseCopyOf(b.k0) }

// K2 returns the speed-squared stiffness matrix.
func (b *Bicycle) K2() mat.Matrix { return mat.DenseCopyOf(b.k2) }

// Ad returns the discrete-time state matrix.
func (b *Bicycle) Ad() mat.Matrix {
	b.recalculate()
	return mat.DenseCopyOf(b.ad)
}

// Bd returns the discrete-time input matrix.
func (b *Bicycle) Bd() mat.Matrix {
	b.recalculate()
	return mat.DenseCopyOf(b.bd)
}

// SystemMatrix returns the discrete state propagation matrix Ad.
func (b *Bicycle) SystemMatrix() mat.Matrix { return b.Ad() }

// ControlMatrix returns the discrete state propagation control matrix Bd.
func (b *Bicycle) ControlMatrix() mat.Matrix { return b.Bd() }

// OutputMatrix returns the observation matrix C.
func (b *Bicycle) OutputMatrix() mat.Matrix { return b.C() }

// FeedForwardMatrix returns the observation control matrix D.
func (b *Bicycle) FeedForwardMatrix() mat.Matrix { return b.D() }

// NormalizeState wraps the angular state components modulo a full turn so
// they do not grow without bound. Roll rate and steer rate pass through
// unchanged.
func (b *Bicycle) NormalizeState(x mat.Vector) mat.Vector {
	out := mat.VecDenseCopyOf(x)
	out.SetVec(StateYawAngle, math.Mod(x.AtVec(StateYawAngle), twoPi))
	out.SetVec(StateRollAngle, math.Mod(x.AtVec(StateRollAngle), twoPi))
	out.SetVec(StateSteerAngle, math.Mod(x.AtVec(StateSteerAngle), twoPi))

	return out
}

// NormalizeOutput wraps the angular output components modulo a full turn.
func (b *Bicycle) NormalizeOutput(y mat.Vector) mat.Vector {
	out := mat.VecDenseCopyOf(y)
	out.SetVec(OutputYawAngle, math.Mod(y.AtVec(OutputYawAngle), twoPi))
	out.SetVec(OutputSteerAngle, math.Mod(y.AtVec(OutputSteerAngle), twoPi))

	return out
}

// NormalizeAuxiliaryState wraps the angular auxiliary state components
// modulo a full turn.
func (b *Bicycle) NormalizeAuxiliaryState(xaux mat.Vector) mat.Vector {
	out := mat.VecDenseCopyOf(xaux)
	out.SetVec(AuxRearWheelAngle, math.Mod(xaux.AtVec(AuxRearWheelAngle), twoPi))
	out.SetVec(AuxPitchAngle, math.Mod(xaux.AtVec(AuxPitchAngle), twoPi))

	return out
}

// IntegrateAuxiliaryState integrates the auxiliary state xaux over a span t
// given dynamic state x and returns the new auxiliary state. The rear
// contact point and rear wheel angle follow the nonholonomic kinematic
// relations
//
//	xdot = v*cos(yaw), ydot = v*sin(yaw), wheeldot = -v/rr
//
// with yaw held fixed at its value in x over the whole span. This is an
// approximation whose error grows with t; it is acceptable for the sample
// periods this model is run at. Pitch is not integrated: it is resolved
// from the contact constraint seeded with the previous pitch value.
// It returns error if x or xaux have invalid dimensions.
func (b *Bicycle) IntegrateAuxiliaryState(x, xaux mat.Vector, t float64) (mat.Vector, error) {
	if x.Len() != stateSize {
		return nil, fmt.Errorf("invalid state vector length: %d", x.Len())
	}
	if xaux.Len() != auxSize {
		return nil, fmt.Errorf("invalid auxiliary state vector length: %d", xaux.Len())
	}

	yaw := x.AtVec(StateYawAngle)
	y := []float64{
		xaux.AtVec(AuxX),
		xaux.AtVec(AuxY),
		xaux.AtVec(AuxRearWheelAngle),
		0.0,
	}

	b.stepper.Integrate(func(_ float64, y, dydt []float64) {
		dydt[AuxX] = b.v * math.Cos(yaw)
		dydt[AuxY] = b.v * math.Sin(yaw)
		dydt[AuxRearWheelAngle] = -b.v / b.rr
		dydt[AuxPitchAngle] = 0.0
	}, y, 0.0, t)

	roll := x.AtVec(StateRollAngle)
	steer := x.AtVec(StateSteerAngle)
	// use last pitch angle as initial guess
	y[AuxPitchAngle] = b.SolvePitchConstraint(roll, steer, xaux.AtVec(AuxPitchAngle))

	return mat.NewVecDense(auxSize, y), nil
}

// HandlebarFeedbackTorque returns the feedback torque for the handlebar
// given state x and input u, estimated from the steer acceleration row of
// the continuous state-space equations. The returned value is sensitive to
// state and input noise and should be filtered before driving equipment.
func (b *Bicycle) HandlebarFeedbackTorque(x, u mat.Vector) float64 {
	b.recalculate()

	var accel float64
	for j := 0; j < stateSize; j++ {
		accel += b.a.At(StateSteerRate, j) * x.AtVec(j)
	}
	for j := 0; j < inputSize; j++ {
		accel += b.b.At(StateSteerRate, j) * u.AtVec(j)
	}

	return accel - u.AtVec(InputSteerTorque)
}

// StateSlice returns the elements of a state vector as a flat slice for
// telemetry consumers.
func StateSlice(x mat.Vector) []float64 {
	out := make([]float64, x.Len())
	for i := range out {
		out[i] = x.AtVec(i)
	}

	return out
}
