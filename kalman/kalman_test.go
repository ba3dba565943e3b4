package kalman

import (
	"math"
	"testing"

	"github.com/openwfm/fmda"
	"github.com/openwfm/fmda/noise"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNilNoise(t *testing.T) {
	assert := assert.New(t)

	assert.True(NilNoise(nil))

	// a typed-nil pointer wrapped in the interface, the shape a discarded
	// constructor error leaves behind
	var g *noise.Gaussian
	assert.True(NilNoise(g))

	z, err := noise.NewZero(2)
	assert.NoError(err)
	assert.False(NilNoise(z))
}

func TestNewObservationMatrix(t *testing.T) {
	assert := assert.New(t)

	h, err := NewObservationMatrix(2, 5)
	assert.NotNil(h)
	assert.NoError(err)

	r, c := h.Dims()
	assert.Equal(2, r)
	assert.Equal(5, c)

	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.Equal(want, h.At(i, j))
		}
	}

	h, err = NewObservationMatrix(0, 5)
	assert.Nil(h)
	assert.ErrorIs(err, fmda.ErrDimensionMismatch)

	h, err = NewObservationMatrix(5, 2)
	assert.Nil(h)
	assert.ErrorIs(err, fmda.ErrDimensionMismatch)
}

func TestSymmetrize(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(2, 2, []float64{1.0, 2.0, 4.0, 3.0})
	s := mat.NewSymDense(2, nil)

	assert.NoError(Symmetrize(s, m))
	assert.Equal(1.0, s.At(0, 0))
	assert.Equal(3.0, s.At(1, 1))
	assert.Equal(3.0, s.At(0, 1))
	assert.Equal(s.At(0, 1), s.At(1, 0))

	bad := mat.NewDense(2, 3, nil)
	assert.ErrorIs(Symmetrize(s, bad), fmda.ErrDimensionMismatch)
}

func TestGeneralizedVariance(t *testing.T) {
	assert := assert.New(t)

	d := mat.NewSymDense(3, []float64{
		2.0, 0.0, 0.0,
		0.0, 3.0, 0.0,
		0.0, 0.0, 4.0,
	})
	assert.InDelta(24.0, GeneralizedVariance(d), 1e-9)

	// negative eigenvalues are clamped, never multiplied through
	n := mat.NewSymDense(2, []float64{1.0, 0.0, 0.0, -1e-15})
	assert.GreaterOrEqual(GeneralizedVariance(n), 0.0)
}

func TestCholSqrt(t *testing.T) {
	assert := assert.New(t)

	p := mat.NewSymDense(2, []float64{4.0, 1.0, 1.0, 3.0})
	scale := 2.5

	l, err := CholSqrt(p, scale)
	assert.NotNil(l)
	assert.NoError(err)

	// L*L' must reconstruct scale*P
	rec := &mat.Dense{}
	rec.Mul(l, l.T())
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(scale*p.At(i, j), rec.At(i, j), 1e-12)
		}
	}

	// indefinite covariance must surface as numerical instability
	bad := mat.NewSymDense(2, []float64{1.0, 2.0, 2.0, 1.0})
	l, err = CholSqrt(bad, 1.0)
	assert.Nil(l)
	assert.ErrorIs(err, fmda.ErrNumericalInstability)
}

func TestGeneralizedVarianceNonPSDInput(t *testing.T) {
	assert := assert.New(t)

	// strongly indefinite input still yields a finite non-negative summary
	p := mat.NewSymDense(2, []float64{1.0, 2.0, 2.0, 1.0})
	gv := GeneralizedVariance(p)
	assert.False(math.IsNaN(gv))
	assert.GreaterOrEqual(gv, 0.0)
}
