package model

import "math"

// Dormand-Prince 5(4) Butcher tableau.
var (
	dpA = [7][6]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{44.0 / 45.0, -56.0 / 15.0, 32.0 / 9.0},
		{19372.0 / 6561.0, -25360.0 / 2187.0, 64448.0 / 6561.0, -212.0 / 729.0},
		{9017.0 / 3168.0, -355.0 / 33.0, 46732.0 / 5247.0, 49.0 / 176.0, -5103.0 / 18656.0},
		{35.0 / 384.0, 0.0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0},
	}
	dpC = [7]float64{0.0, 1.0 / 5.0, 3.0 / 10.0, 4.0 / 5.0, 8.0 / 9.0, 1.0, 1.0}
	// 5th order solution weights
	dpB = [7]float64{35.0 / 384.0, 0.0, 500.0 / 1113.0, 125.0 / 192.0, -2187.0 / 6784.0, 11.0 / 84.0, 0.0}
	// difference between the 5th and embedded 4th order weights,
	// used for the local error estimate
	dpE = [7]float64{
		35.0/384.0 - 5179.0/57600.0,
		0.0,
		500.0/1113.0 - 7571.0/16695.0,
		125.0/192.0 - 393.0/640.0,
		-2187.0/6784.0 + 92097.0/339200.0,
		11.0/84.0 - 187.0/2100.0,
		-1.0 / 40.0,
	}
)

const (
	dopri5AbsTol = 1e-12
	dopri5RelTol = 1e-9

	dopri5MinScale = 0.2
	dopri5MaxScale = 5.0
	dopri5Safety   = 0.9
)

// dopri5 is an embedded adaptive-step Dormand-Prince 5(4) stepper. The
// stage slices are scratch state carried across a single Integrate call and
// reset on completion, so a stepper may be reused sequentially but must not
// be shared between goroutines.
type dopri5 struct {
	n    int
	k    [7][]float64
	ytmp []float64
}

func newDopri5(n int) *dopri5 {
	s := &dopri5{n: n, ytmp: make([]float64, n)}
	for i := range s.k {
		s.k[i] = make([]float64, n)
	}

	return s
}

// Integrate advances y in place from t0 to t1 under the derivative function
// f, adapting the step size to the embedded error estimate.
func (s *dopri5) Integrate(f func(t float64, y, dydt []float64), y []float64, t0, t1 float64) {
	if t1 == t0 {
		return
	}

	t := t0
	h := t1 - t0

	for t < t1 {
		if t+h > t1 {
			h = t1 - t
		}

		err := s.step(f, y, t, h)
		if err <= 1.0 {
			// step accepted
			t += h
			for i := 0; i < s.n; i++ {
				y[i] = s.ytmp[i]
			}
		}

		scale := dopri5MaxScale
		if err > 0 {
			scale = dopri5Safety * math.Pow(err, -1.0/5.0)
			scale = math.Max(dopri5MinScale, math.Min(dopri5MaxScale, scale))
		}
		h *= scale
	}
}

// step performs a single trial step of size h from t, leaving the candidate
// solution in s.ytmp. It returns the scaled local error estimate: values at
// or below 1 mean the step satisfies the tolerances.
func (s *dopri5) step(f func(t float64, y, dydt []float64), y []float64, t, h float64) float64 {
	for stage := 0; stage < 7; stage++ {
		for i := 0; i < s.n; i++ {
			sum := 0.0
			for j := 0; j < stage; j++ {
				sum += dpA[stage][j] * s.k[j][i]
			}
			s.ytmp[i] = y[i] + h*sum
		}
		f(t+dpC[stage]*h, s.ytmp, s.k[stage])
	}

	var errNorm float64
	for i := 0; i < s.n; i++ {
		sol := 0.0
		errI := 0.0
		for stage := 0; stage < 7; stage++ {
			sol += dpB[stage] * s.k[stage][i]
			errI += dpE[stage] * s.k[stage][i]
		}
		s.ytmp[i] = y[i] + h*sol

		tol := dopri5AbsTol + dopri5RelTol*math.Max(math.Abs(y[i]), math.Abs(s.ytmp[i]))
		e := h * errI / tol
		errNorm += e * e
	}

	return math.Sqrt(errNorm / float64(s.n))
}
