package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Kinematic is a simplified variant of the bicycle model which ignores
// roll/steer rate and acceleration terms, reducing the equations of motion
// to
//
//	(g*K0 + v^2*K2) * [roll, steer]' = [T_roll, T_steer]'
//
// State reconstruction is driven directly by the measurement rather than by
// the discrete state-space matrices.
type Kinematic struct {
	*Bicycle
}

// NewKinematic creates a new Kinematic model from physical parameters p,
// forward speed v and sample time dt and returns it.
// It returns error if dt is not positive: the variant reconstructs rates
// from consecutive measurements and needs a nonzero sample period.
func NewKinematic(p Params, v, dt float64) (*Kinematic, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("invalid sample time: %v", dt)
	}

	b, err := New(p, v, dt)
	if err != nil {
		return nil, err
	}

	return &Kinematic{Bicycle: b}, nil
}

// K returns the effective stiffness matrix g*K0 + v^2*K2 for the current
// speed.
func (k *Kinematic) K() mat.Matrix {
	out := &mat.Dense{}
	out.Scale(Grav, k.k0)
	k2v := &mat.Dense{}
	k2v.Scale(k.v*k.v, k.k2)
	out.Add(out, k2v)

	return out
}

// PropagateMeasurement reconstructs the next state from measurement z given
// previous state x. Input u is unused by this variant but kept for
// signature parity with the dynamic models. Roll follows steer through the
// effective stiffness; rates are backward differences over the sample
// period.
// It returns error if x or z have invalid dimensions.
func (k *Kinematic) PropagateMeasurement(x, u, z mat.Vector) (mat.Vector, error) {
	if x.Len() != stateSize {
		return nil, fmt.Errorf("invalid state vector length: %d", x.Len())
	}
	if z.Len() != outputSize {
		return nil, fmt.Errorf("invalid measurement vector length: %d", z.Len())
	}

	kEff := k.K()
	yawM := z.AtVec(OutputYawAngle)
	steerM := z.AtVec(OutputSteerAngle)
	nextRoll := -kEff.At(0, 1) / kEff.At(0, 0) * steerM

	next := mat.NewVecDense(stateSize, nil)
	next.SetVec(StateYawAngle, yawM)
	next.SetVec(StateRollAngle, nextRoll)
	next.SetVec(StateSteerAngle, steerM)
	next.SetVec(StateRollRate, (nextRoll-x.AtVec(StateRollAngle))/k.dt)
	next.SetVec(StateSteerRate, (steerM-x.AtVec(StateSteerAngle))/k.dt)

	return next, nil
}
