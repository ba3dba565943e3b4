package assim

import (
	"testing"

	"github.com/openwfm/fmda"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func obsAt(t float64, vals ...float64) Observation {
	return Observation{Time: t, Value: mat.NewVecDense(len(vals), vals)}
}

func TestNewScheduler(t *testing.T) {
	assert := assert.New(t)

	s, err := NewScheduler([]Observation{obsAt(1.0, 0.05), obsAt(2.0, 0.06)})
	assert.NotNil(s)
	assert.NoError(err)
	assert.Equal(2, s.Pending())

	// out of order
	s, err = NewScheduler([]Observation{obsAt(2.0, 0.05), obsAt(1.0, 0.06)})
	assert.Nil(s)
	assert.ErrorIs(err, fmda.ErrObservationOrdering)

	// duplicate times violate strict ordering
	s, err = NewScheduler([]Observation{obsAt(1.0, 0.05), obsAt(1.0, 0.06)})
	assert.Nil(s)
	assert.ErrorIs(err, fmda.ErrObservationOrdering)

	// empty series is a valid run with no updates
	s, err = NewScheduler(nil)
	assert.NotNil(s)
	assert.NoError(err)
	assert.Equal(0, s.Pending())
}

func TestMatchExact(t *testing.T) {
	assert := assert.New(t)

	s, err := NewScheduler([]Observation{obsAt(1.0, 0.05), obsAt(3.0, 0.06)})
	assert.NoError(err)

	ob, ok := s.Match(0.0)
	assert.Nil(ob)
	assert.False(ok)

	ob, ok = s.Match(1.0)
	assert.True(ok)
	assert.Equal(1.0, ob.Time)
	assert.Equal(1, s.Pending())

	// a consumed observation is never handed out twice
	ob, ok = s.Match(1.0)
	assert.Nil(ob)
	assert.False(ok)

	ob, ok = s.Match(2.0)
	assert.False(ok)

	ob, ok = s.Match(3.0)
	assert.True(ok)
	assert.Equal(0.06, ob.Value.AtVec(0))
	assert.Equal(0, s.Pending())
}

func TestMatchOffGrid(t *testing.T) {
	assert := assert.New(t)

	// the observation time never coincides with a grid point: it is
	// silently dropped, not an error
	s, err := NewScheduler([]Observation{obsAt(2.5, 0.05)})
	assert.NoError(err)

	for _, gt := range []float64{0.0, 1.0, 2.0, 3.0, 4.0} {
		ob, ok := s.Match(gt)
		assert.Nil(ob)
		assert.False(ok)
	}
	assert.Equal(0, s.Pending())
}

func TestMatchTolerance(t *testing.T) {
	assert := assert.New(t)

	s, err := NewScheduler([]Observation{obsAt(2.49, 0.05)})
	assert.NoError(err)
	s.MatchTolerance = 0.5

	ob, ok := s.Match(1.0)
	assert.False(ok)

	ob, ok = s.Match(2.0)
	assert.True(ok)
	assert.Equal(2.49, ob.Time)
}
