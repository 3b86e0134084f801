package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// Grav is the gravitational constant used in the effective
	// stiffness matrix K = Grav*K0 + v^2*K2.
	Grav = 9.80665

	twoPi = 2 * math.Pi
)

// State vector indices. Yaw is part of the dynamic state due to its linear
// relation to the other state elements.
const (
	StateYawAngle = iota
	StateRollAngle
	StateSteerAngle
	StateRollRate
	StateSteerRate

	stateSize
)

// Input vector indices.
const (
	InputRollTorque = iota
	InputSteerTorque

	inputSize
)

// Output vector indices. These match the default output matrices; if C or D
// are replaced the output fields may no longer correspond to these indices.
const (
	OutputYawAngle = iota
	OutputSteerAngle

	outputSize
)

// Auxiliary state vector indices. The auxiliary state is not part of the
// linear dynamics: position grows without bound and pitch is defined by a
// nonlinear constraint.
const (
	AuxX = iota
	AuxY
	AuxRearWheelAngle
	AuxPitchAngle

	auxSize
)

// Full state vector indices. Auxiliary fields are declared first.
const (
	FullStateX = iota
	FullStateY
	FullStateRearWheelAngle
	FullStatePitchAngle
	FullStateYawAngle
	FullStateRollAngle
	FullStateSteerAngle
	FullStateRollRate
	FullStateSteerRate

	fullStateSize
)

// secondOrderSize is the size of the second order coordinate vector
// q = [roll, steer] in M*q_dd + v*C1*q_d + K*q = u.
const secondOrderSize = 2

// Params are the physical parameters of the bicycle model.
type Params struct {
	// M is the mass/inertia matrix
	M *mat.Dense
	// C1 is the speed-independent damping matrix
	C1 *mat.Dense
	// K0 is the gravity-dependent stiffness matrix
	K0 *mat.Dense
	// K2 is the speed-squared stiffness matrix
	K2 *mat.Dense
	// Wheelbase is the distance between wheel contact points
	Wheelbase float64
	// Trail is the mechanical trail
	Trail float64
	// SteerAxisTilt is the steer axis tilt from vertical
	SteerAxisTilt float64
	// RearWheelRadius is the rear wheel radius
	RearWheelRadius float64
	// FrontWheelRadius is the front wheel radius
	FrontWheelRadius float64
}

// Benchmark returns the physical parameters of the benchmark bicycle
// from Meijaard et al. 2007.
func Benchmark() Params {
	return Params{
		M: mat.NewDense(2, 2, []float64{
			80.81722, 2.31941332208709,
			2.31941332208709, 0.29784188199686,
		}),
		C1: mat.NewDense(2, 2, []float64{
			0.0, 33.86641391492494,
			-0.85035641456978, 1.68540397397560,
		}),
		K0: mat.NewDense(2, 2, []float64{
			-80.95, -2.59951685249872,
			-2.59951685249872, -0.80329488458618,
		}),
		K2: mat.NewDense(2, 2, []float64{
			0.0, 76.59734589573222,
			0.0, 2.65431523794604,
		}),
		Wheelbase:        1.02,
		Trail:            0.08,
		SteerAxisTilt:    math.Pi / 10,
		RearWheelRadius:  0.3,
		FrontWheelRadius: 0.35,
	}
}

// DefaultOutputMatrix returns the default observation matrix C which picks
// yaw angle and steer angle from the state.
func DefaultOutputMatrix() *mat.Dense {
	return mat.NewDense(outputSize, stateSize, []float64{
		1, 0, 0, 0, 0,
		0, 0, 1, 0, 0,
	})
}

// DefaultFeedForwardMatrix returns the default feedthrough matrix D.
func DefaultFeedForwardMatrix() *mat.Dense {
	return mat.NewDense(outputSize, inputSize, nil)
}

// IsAuxiliaryField returns true if the full state field at index i belongs
// to the auxiliary state.
func IsAuxiliaryField(i int) bool {
	return i >= 0 && i < auxSize
}

// MakeFullState concatenates auxiliary state xaux and dynamic state x into
// a full state vector.
func MakeFullState(xaux, x mat.Vector) mat.Vector {
	xf := mat.NewVecDense(fullStateSize, nil)
	for i := 0; i < auxSize; i++ {
		xf.SetVec(i, xaux.AtVec(i))
	}
	for i := 0; i < stateSize; i++ {
		xf.SetVec(auxSize+i, x.AtVec(i))
	}

	return xf
}

// AuxiliaryPart returns the auxiliary state part of a full state vector.
func AuxiliaryPart(xf mat.Vector) mat.Vector {
	xaux := mat.NewVecDense(auxSize, nil)
	for i := 0; i < auxSize; i++ {
		xaux.SetVec(i, xf.AtVec(i))
	}

	return xaux
}

// DynamicPart returns the dynamic state part of a full state vector.
func DynamicPart(xf mat.Vector) mat.Vector {
	x := mat.NewVecDense(stateSize, nil)
	for i := 0; i < stateSize; i++ {
		x.SetVec(i, xf.AtVec(auxSize+i))
	}

	return x
}
