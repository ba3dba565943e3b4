package assim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNewTrajectoryPlot(t *testing.T) {
	assert := assert.New(t)

	traj := Trajectory{
		{Time: 0.0, Filtered: mat.NewVecDense(2, []float64{0.03, 0.0}), Unfiltered: mat.NewVecDense(2, []float64{0.03, 0.0}), Cov: mat.NewSymDense(2, nil)},
		{Time: 1.0, Filtered: mat.NewVecDense(2, []float64{0.04, 0.0}), Unfiltered: mat.NewVecDense(2, []float64{0.035, 0.0}), Cov: mat.NewSymDense(2, nil)},
	}
	obs := []Observation{obsAt(1.0, 0.05)}

	p, err := NewTrajectoryPlot(traj, 0, obs)
	assert.NotNil(p)
	assert.NoError(err)

	p, err = NewTrajectoryPlot(traj, 0, nil)
	assert.NotNil(p)
	assert.NoError(err)

	p, err = NewTrajectoryPlot(nil, 0, obs)
	assert.Nil(p)
	assert.Error(err)

	p, err = NewTrajectoryPlot(traj, 5, obs)
	assert.Nil(p)
	assert.Error(err)

	p, err = NewTrajectoryPlot(traj, -1, obs)
	assert.Nil(p)
	assert.Error(err)
}

func TestNewTrajectoryPlotPerturbationIndex(t *testing.T) {
	assert := assert.New(t)

	// a single fuel class inside a wider extended state: indices beyond
	// the moisture block address perturbations and must be rejected
	traj := Trajectory{
		{Time: 0.0, Filtered: mat.NewVecDense(5, nil), Unfiltered: mat.NewVecDense(5, nil), Cov: mat.NewSymDense(5, nil)},
		{Time: 1.0, Filtered: mat.NewVecDense(5, nil), Unfiltered: mat.NewVecDense(5, nil), Cov: mat.NewSymDense(5, nil), ModelIDs: []int{1}},
	}

	p, err := NewTrajectoryPlot(traj, 0, nil)
	assert.NotNil(p)
	assert.NoError(err)

	p, err = NewTrajectoryPlot(traj, 1, nil)
	assert.Nil(p)
	assert.Error(err)
}
