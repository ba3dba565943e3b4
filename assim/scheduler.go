package assim

import (
	"fmt"

	"github.com/openwfm/fmda"
	"gonum.org/v1/gonum/mat"
)

// Observation is one sparse fuel-moisture measurement: a time on the
// simulation clock [h] and one value per observed fuel class.
type Observation struct {
	// Time is the observation time in hours
	Time float64
	// Value holds the measured fuel-moisture contents
	Value *mat.VecDense
}

// Scheduler matches a sparse, strictly time-ordered observation series
// against the discrete integration grid. An observation is consumed when
// the grid time matches it; observations whose times never coincide with
// a grid point are silently never consumed.
type Scheduler struct {
	// MatchTolerance widens the time comparison; the zero value keeps
	// the exact-equality reference behavior. Off-grid observations are
	// dropped silently when it is too tight.
	MatchTolerance float64

	obs  []Observation
	next int
}

// NewScheduler creates a scheduler over the given observation series.
// It fails with fmda.ErrObservationOrdering if the series is not strictly
// increasing in time.
func NewScheduler(obs []Observation) (*Scheduler, error) {
	for i := 1; i < len(obs); i++ {
		if obs[i].Time <= obs[i-1].Time {
			return nil, fmt.Errorf("%w: observation %d at %f follows %f", fmda.ErrObservationOrdering, i, obs[i].Time, obs[i-1].Time)
		}
	}

	return &Scheduler{obs: obs}, nil
}

// Match compares the grid time t against the next pending observation.
// On a match it dequeues and returns the observation; otherwise it signals
// a predict-only step. Pending observations that already fell behind t are
// skipped, never applied late.
func (s *Scheduler) Match(t float64) (*Observation, bool) {
	for s.next < len(s.obs) && s.obs[s.next].Time < t-s.MatchTolerance {
		s.next++
	}

	if s.next >= len(s.obs) {
		return nil, false
	}

	ob := &s.obs[s.next]
	if matches(ob.Time, t, s.MatchTolerance) {
		s.next++
		return ob, true
	}

	return nil, false
}

// Pending returns the number of observations not yet consumed or skipped.
func (s *Scheduler) Pending() int {
	return len(s.obs) - s.next
}

func matches(obsTime, t, tol float64) bool {
	if tol == 0 {
		return obsTime == t
	}
	d := obsTime - t
	return d >= -tol && d <= tol
}
