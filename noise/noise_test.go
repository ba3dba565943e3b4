package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestGaussian(t *testing.T) {
	assert := assert.New(t)

	mean := []float64{0.0, 0.0}
	cov := mat.NewSymDense(2, []float64{0.25, 0.0, 0.0, 0.25})

	g, err := NewGaussian(mean, cov)
	assert.NotNil(g)
	assert.NoError(err)

	assert.Equal(mean, g.Mean())
	assert.True(mat.EqualApprox(cov, g.Cov(), 1e-12))

	sample := g.Sample()
	assert.Equal(len(mean), sample.Len())

	g.Reset()
	sample = g.Sample()
	assert.Equal(len(mean), sample.Len())

	// mean and covariance dimensions must agree
	g, err = NewGaussian([]float64{0.0}, cov)
	assert.Nil(g)
	assert.Error(err)

	// non-PSD covariance
	bad := mat.NewSymDense(2, []float64{-1.0, 0.0, 0.0, -1.0})
	g, err = NewGaussian(mean, bad)
	assert.Nil(g)
	assert.Error(err)

	indef := mat.NewSymDense(2, []float64{1.0, 2.0, 2.0, 1.0})
	g, err = NewGaussian(mean, indef)
	assert.Nil(g)
	assert.Error(err)
}

func TestGaussianSingular(t *testing.T) {
	assert := assert.New(t)

	// process noise injected into the observed block only: the covariance
	// is singular PSD and must still be a valid carrier
	cov := mat.NewSymDense(3, nil)
	cov.SetSym(0, 0, 0.0001)

	g, err := NewGaussian(make([]float64, 3), cov)
	assert.NotNil(g)
	assert.NoError(err)

	assert.True(mat.EqualApprox(cov, g.Cov(), 1e-12))

	// samples stay inside the covariance range space
	for i := 0; i < 5; i++ {
		sample := g.Sample()
		assert.Equal(3, sample.Len())
		assert.InDelta(0.0, sample.AtVec(1), 1e-12)
		assert.InDelta(0.0, sample.AtVec(2), 1e-12)
	}

	g.Reset()
	assert.Equal(3, g.Sample().Len())
}

func TestZero(t *testing.T) {
	assert := assert.New(t)

	z, err := NewZero(3)
	assert.NotNil(z)
	assert.NoError(err)

	assert.Equal([]float64{0.0, 0.0, 0.0}, z.Mean())
	assert.Equal(3, z.Cov().SymmetricDim())
	assert.Equal(3, z.Sample().Len())
	assert.InDelta(0.0, mat.Sum(z.Sample()), 1e-12)
	z.Reset()

	z, err = NewZero(-3)
	assert.Nil(z)
	assert.Error(err)
}

func TestNone(t *testing.T) {
	assert := assert.New(t)

	n, err := NewNone()
	assert.NotNil(n)
	assert.NoError(err)

	assert.Nil(n.Mean())
	assert.Equal(0, n.Cov().SymmetricDim())
	assert.Equal(0, n.Sample().Len())
	n.Reset()
}
