package estimate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

var (
	val mat.Vector
	cov mat.Symmetric
)

func setup() {
	val = mat.NewVecDense(2, []float64{1.0, 3.0})
	cov = mat.NewSymDense(2, []float64{0.25, 0.0, 0.0, 0.25})
}

func TestMain(m *testing.M) {
	setup()
	m.Run()
}

func TestNewBase(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBase(val)
	assert.NotNil(b)
	assert.NoError(err)

	assert.True(mat.EqualApprox(val, b.Val(), 1e-12))
	assert.Equal(val.Len(), b.Cov().SymmetricDim())
}

func TestNewBaseWithCov(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBaseWithCov(val, cov)
	assert.NotNil(b)
	assert.NoError(err)

	assert.True(mat.EqualApprox(val, b.Val(), 1e-12))
	assert.True(mat.EqualApprox(cov, b.Cov(), 1e-12))

	// mismatched dimensions
	badCov := mat.NewSymDense(3, nil)
	b, err = NewBaseWithCov(val, badCov)
	assert.Nil(b)
	assert.Error(err)
}

func TestValCovCopies(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBaseWithCov(val, cov)
	assert.NoError(err)

	// mutating returned values must not change the estimate
	v := b.Val().(*mat.VecDense)
	v.SetVec(0, -100.0)
	assert.True(mat.EqualApprox(val, b.Val(), 1e-12))

	c := b.Cov().(*mat.SymDense)
	c.SetSym(0, 0, -100.0)
	assert.True(mat.EqualApprox(cov, b.Cov(), 1e-12))
}
