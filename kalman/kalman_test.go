package kalman

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	bicycle "github.com/milosgajdos/go-bicycle"
	"github.com/milosgajdos/go-bicycle/model"
	"github.com/milosgajdos/go-bicycle/noise"
	"github.com/milosgajdos/go-bicycle/sim"
)

const testDt = 1.0 / 200

var (
	okModel *model.Bicycle
	ic      *sim.InitCond
	q       bicycle.Noise
	r       bicycle.Noise
	u       *mat.VecDense
	z       *mat.VecDense
)

func setup() {
	okModel, _ = model.New(model.Benchmark(), 5.0, testDt)

	u = mat.NewVecDense(2, []float64{0.0, 0.1})
	z = mat.NewVecDense(2, []float64{0.01, 0.05})

	// initial condition
	initState := mat.NewVecDense(5, []float64{0.0, 0.05, 0.1, 0.0, 0.0})
	initCov := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		initCov.SetSym(i, i, 1e-4)
	}
	ic = sim.NewInitCond(initState, initCov)

	// state and output noise
	qCov := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		qCov.SetSym(i, i, 1e-8)
	}
	q, _ = noise.NewGaussian(make([]float64, 5), qCov)

	rCov := mat.NewSymDense(2, nil)
	for i := 0; i < 2; i++ {
		rCov.SetSym(i, i, 1e-6)
	}
	r, _ = noise.NewGaussian(make([]float64, 2), rCov)
}

func TestMain(m *testing.M) {
	// set up tests
	setup()
	// run the tests
	retCode := m.Run()
	// call with result of m.Run()
	os.Exit(retCode)
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NotNil(f)
	assert.NoError(err)

	// nil noise is valid and means no noise
	f, err = New(okModel, ic, nil, nil)
	assert.NotNil(f)
	assert.NoError(err)

	// invalid process noise dimension
	badQ, _ := noise.NewZero(3)
	f, err = New(okModel, ic, badQ, r)
	assert.Nil(f)
	assert.Error(err)

	// invalid measurement noise dimension
	badR, _ := noise.NewZero(3)
	f, err = New(okModel, ic, q, badR)
	assert.Nil(f)
	assert.Error(err)

	// invalid initial condition dimensions
	badIC := sim.NewInitCond(mat.NewVecDense(3, nil), mat.NewSymDense(3, nil))
	f, err = New(okModel, badIC, q, r)
	assert.Nil(f)
	assert.Error(err)
}

func TestTimeUpdate(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NoError(err)

	want, err := okModel.Propagate(ic.State(), u)
	assert.NoError(err)

	assert.NoError(f.TimeUpdate(u))
	got := f.State()
	for i := 0; i < 5; i++ {
		assert.InDelta(want.AtVec(i), got.AtVec(i), 1e-12)
	}

	// error covariance picks up the process noise
	cov := f.Cov()
	var trace float64
	for i := 0; i < 5; i++ {
		trace += cov.At(i, i)
	}
	assert.True(trace > 0.0)

	// invalid input dimensions
	assert.Error(f.TimeUpdate(mat.NewVecDense(3, nil)))
}

func TestTimeUpdateWithCov(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NoError(err)

	bigQ := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		bigQ.SetSym(i, i, 1.0)
	}

	assert.NoError(f.TimeUpdateWithCov(u, bigQ))

	cov := f.Cov()
	for i := 0; i < 5; i++ {
		assert.True(cov.At(i, i) >= 1.0)
	}

	// the stored process noise covariance is not modified
	assert.InDelta(1e-8, f.ProcessNoiseCov().At(0, 0), 1e-12)

	assert.Error(f.TimeUpdateWithCov(u, nil))
	assert.Error(f.TimeUpdateWithCov(u, mat.NewSymDense(3, nil)))
}

func TestMeasurementUpdate(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NoError(err)

	assert.NoError(f.MeasurementUpdate(z))

	gain := f.Gain()
	rows, cols := gain.Dims()
	assert.Equal(5, rows)
	assert.Equal(2, cols)

	// correction moves the estimated output towards the measurement
	y, err := okModel.Observe(f.State(), nil)
	assert.NoError(err)
	y0, err := okModel.Observe(ic.State(), nil)
	assert.NoError(err)
	for i := 0; i < 2; i++ {
		gotErr := z.AtVec(i) - y.AtVec(i)
		priorErr := z.AtVec(i) - y0.AtVec(i)
		assert.True(gotErr*gotErr <= priorErr*priorErr)
	}

	// invalid measurement dimensions
	assert.Error(f.MeasurementUpdate(mat.NewVecDense(3, nil)))
}

func TestMeasurementUpdateWithCov(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NoError(err)

	bigR := mat.NewSymDense(2, nil)
	for i := 0; i < 2; i++ {
		bigR.SetSym(i, i, 1.0)
	}

	assert.NoError(f.MeasurementUpdateWithCov(z, bigR))
	bigGain := mat.DenseCopyOf(f.Gain())

	// the stored measurement noise covariance is not modified
	assert.InDelta(1e-6, f.MeasurementNoiseCov().At(0, 0), 1e-12)

	// a larger measurement noise covariance must reduce the gain
	f2, err := New(okModel, ic, q, r)
	assert.NoError(err)
	assert.NoError(f2.MeasurementUpdate(z))
	smallGain := f2.Gain()
	assert.True(bigGain.At(0, 0) < smallGain.At(0, 0))

	assert.Error(f.MeasurementUpdateWithCov(z, nil))
	assert.Error(f.MeasurementUpdateWithCov(z, mat.NewSymDense(3, nil)))
}

func TestFilterTracking(t *testing.T) {
	assert := assert.New(t)

	// with zero process noise, a perfect initial estimate and noiseless
	// measurements the estimate must keep tracking the true state
	qZero, _ := noise.NewZero(5)
	f, err := New(okModel, ic, qZero, r)
	assert.NoError(err)

	truth := mat.VecDenseCopyOf(ic.State())
	for i := 0; i < 50; i++ {
		next, err := okModel.Propagate(truth, nil)
		assert.NoError(err)
		truth.CopyVec(next)

		assert.NoError(f.TimeUpdate(nil))

		zk, err := okModel.Observe(truth, nil)
		assert.NoError(err)
		assert.NoError(f.MeasurementUpdate(zk))
	}

	got := f.State()
	for i := 0; i < 5; i++ {
		assert.InDelta(truth.AtVec(i), got.AtVec(i), 1e-8)
	}
}

func TestAccessors(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NoError(err)

	assert.Equal(okModel, f.System())
	assert.Equal(testDt, f.SampleTime())
	assert.Len(f.StateSlice(), 5)

	cov := f.Cov()
	assert.Equal(5, cov.SymmetricDim())

	newCov := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		newCov.SetSym(i, i, 0.5)
	}
	assert.NoError(f.SetCov(newCov))
	assert.InDelta(0.5, f.Cov().At(0, 0), 1e-12)

	assert.Error(f.SetCov(nil))
	assert.Error(f.SetCov(mat.NewSymDense(3, nil)))

	assert.Equal(5, f.ProcessNoiseCov().SymmetricDim())
	assert.Equal(2, f.MeasurementNoiseCov().SymmetricDim())
}
