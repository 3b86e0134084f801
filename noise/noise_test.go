package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestGaussian(t *testing.T) {
	assert := assert.New(t)

	mean := []float64{1.0, -1.0}
	cov := mat.NewSymDense(2, []float64{0.25, 0.0, 0.0, 0.25})

	g, err := NewGaussian(mean, cov)
	assert.NoError(err)
	assert.NotNil(g)

	sample := g.Sample()
	assert.Equal(2, sample.Len())

	assert.Equal(mean, g.Mean())
	assert.True(mat.Equal(cov, g.Cov()))

	// mutating the returned mean must not affect the noise
	m := g.Mean()
	m[0] = 100.0
	assert.Equal(mean, g.Mean())

	g.Reset()
	assert.Equal(2, g.Sample().Len())

	// mean and covariance dimensions must match
	g, err = NewGaussian([]float64{0.0}, cov)
	assert.Nil(g)
	assert.Error(err)
}

func TestNone(t *testing.T) {
	assert := assert.New(t)

	n, err := NewNone()
	assert.NoError(err)
	assert.NotNil(n)

	assert.Equal(0, n.Sample().Len())
	assert.Equal(0, n.Cov().SymmetricDim())
	assert.Nil(n.Mean())
	n.Reset()
}

func TestZero(t *testing.T) {
	assert := assert.New(t)

	z, err := NewZero(3)
	assert.NoError(err)
	assert.NotNil(z)

	sample := z.Sample()
	assert.Equal(3, sample.Len())
	for i := 0; i < sample.Len(); i++ {
		assert.Equal(0.0, sample.AtVec(i))
	}
	assert.Equal([]float64{0, 0, 0}, z.Mean())
	assert.Equal(3, z.Cov().SymmetricDim())
	z.Reset()

	z, err = NewZero(0)
	assert.Nil(z)
	assert.Error(err)
}
