package noise

import (
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Gaussian is additive white Gaussian noise
type Gaussian struct {
	// dist is a multivariate normal distribution
	dist *distmv.Normal
	// mean is Gaussian mean
	mean []float64
	// cov is Gaussian covariance
	cov *mat.SymDense
}

// NewGaussian creates new Gaussian noise with the given mean and covariance.
// It returns error if mean and covariance dimensions do not match or if the
// covariance is not positive semi-definite.
func NewGaussian(mean []float64, cov mat.Symmetric) (*Gaussian, error) {
	if len(mean) != cov.SymmetricDim() {
		return nil, fmt.Errorf("invalid noise dimensions: mean %d, cov %d", len(mean), cov.SymmetricDim())
	}

	dist, err := newGaussianDist(mean, cov)
	if err != nil {
		return nil, err
	}

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	m := make([]float64, len(mean))
	copy(m, mean)

	return &Gaussian{
		dist: dist,
		mean: m,
		cov:  c,
	}, nil
}

// Sample generates a sample from Gaussian noise and returns it.
func (g *Gaussian) Sample() mat.Vector {
	r := g.dist.Rand(nil)
	return mat.NewVecDense(len(r), r)
}

// Cov returns covariance matrix of Gaussian noise.
func (g *Gaussian) Cov() mat.Symmetric {
	cov := mat.NewSymDense(g.cov.SymmetricDim(), nil)
	cov.CopySym(g.cov)

	return cov
}

// Mean returns Gaussian mean.
func (g *Gaussian) Mean() []float64 {
	m := make([]float64, len(g.mean))
	copy(m, g.mean)

	return m
}

// Reset reseeds Gaussian noise.
func (g *Gaussian) Reset() {
	dist, err := newGaussianDist(g.mean, g.cov)
	if err != nil {
		// parameters were validated on construction
		panic(err)
	}
	g.dist = dist
}

func newGaussianDist(mean []float64, cov mat.Symmetric) (*distmv.Normal, error) {
	src := rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	dist, ok := distmv.NewNormal(mean, cov, src)
	if !ok {
		return nil, fmt.Errorf("failed to create Gaussian distribution")
	}

	return dist, nil
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nMean=%v\nCov=%v\n}", g.mean, mat.Formatted(g.cov, mat.Prefix("    "), mat.Squeeze()))
}
