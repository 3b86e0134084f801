package model

import "math"

// pitchDigits is the number of binary digits of accuracy sought by the
// pitch constraint solve: two thirds of a float64 mantissa.
const pitchDigits = 53 * 2 / 3

// SolvePitchConstraint solves the nonlinear wheel/ground contact constraint
// for the pitch angle given roll and steer angles, seeded with guess
// (normally the previous pitch value). The root is bracketed in
// (-pi/2, pi/2); if the iteration fails to converge the best estimate at
// the iteration bound is returned rather than an error, since callers must
// produce a value every sample.
func (b *Bicycle) SolvePitchConstraint(roll, steer, guess float64) float64 {
	if b.recalcMoore {
		b.setMooreParameters()
	}
	d1, d2, d3 := b.d1, b.d2, b.d3
	rr, rf := b.rr, b.rf

	sr, cr := math.Sincos(roll)
	ss, cs := math.Sincos(steer)
	// |cos(roll)| appears throughout the generated constraint
	acr := math.Sqrt(cr * cr)

	f := func(pitch float64) (float64, float64) {
		sp, cp := math.Sincos(pitch)

		// front wheel contact direction term and its normalizer
		alpha := -sp*cr*cs + sr*ss
		beta := math.Sqrt(alpha*alpha + cp*cp*cr*cr)

		g := (rf*cp*cp*cr*cr+(d3*beta+rf*alpha)*alpha)*acr +
			beta*(-d1*acr*sp+d2*acr*cp-rr*cr)*cr

		dalpha := -cp * cr * cs
		dbeta := (alpha*dalpha - cp*sp*cr*cr) / beta
		dg := (-2*rf*cp*sp*cr*cr+(d3*dbeta+rf*dalpha)*alpha+(d3*beta+rf*alpha)*dalpha)*acr +
			dbeta*(-d1*acr*sp+d2*acr*cp-rr*cr)*cr +
			beta*(-d1*acr*cp-d2*acr*sp)*cr

		val := g / (beta * acr)
		deriv := dg/(beta*acr) - g*dbeta/(beta*beta*acr)

		return val, deriv
	}

	return newtonRaphsonIterate(f, guess, -math.Pi/2, math.Pi/2, pitchDigits)
}

// newtonRaphsonIterate finds a root of f, which returns the function value
// and its first derivative, starting from guess within [min, max]. Newton
// steps that leave the brackets or fail to shrink fall back to bisection.
// Iteration stops once the step is below the requested binary digits of
// accuracy or the iteration budget is exhausted.
func newtonRaphsonIterate(f func(x float64) (float64, float64), guess, min, max float64, digits int) float64 {
	const maxIter = 200

	factor := math.Ldexp(1.0, 1-digits)
	delta := math.MaxFloat64
	delta1 := math.MaxFloat64
	delta2 := math.MaxFloat64
	result := guess

	for count := 0; count < maxIter; count++ {
		delta2 = delta1
		delta1 = delta

		f0, f1 := f(result)
		if f0 == 0 {
			break
		}

		if f1 == 0 {
			// stationary point: bisect the bracket
			delta = result - 0.5*(min+max)
		} else {
			delta = f0 / f1
		}

		// the last two steps haven't converged, bisect instead
		if math.Abs(delta*2) > math.Abs(delta2) {
			var shift float64
			if delta > 0 {
				shift = (result - min) / 2
			} else {
				shift = (result - max) / 2
			}
			if result != 0 && math.Abs(shift) > math.Abs(result) {
				delta = math.Copysign(math.Abs(result)*1.1, delta)
			} else {
				delta = shift
			}
			delta1 = 3 * delta
			delta2 = 3 * delta
		}

		prev := result
		result -= delta

		// keep the iterate inside the brackets
		if result <= min {
			delta = 0.5 * (prev - min)
			result = prev - delta
			if result == min || result == max {
				break
			}
		} else if result >= max {
			delta = 0.5 * (prev - max)
			result = prev - delta
			if result == min || result == max {
				break
			}
		}

		// tighten the brackets
		if delta > 0 {
			max = prev
		} else {
			min = prev
		}

		if math.Abs(result*factor) >= math.Abs(delta) {
			break
		}
	}

	return result
}
