// Package assim drives the fuel-moisture data assimilation: it owns the
// estimation state, advances it with a Kalman-type filter over a discrete
// time grid and reconciles the sparse observation stream against that grid,
// producing the filtered and unfiltered trajectories of a run.
package assim

import (
	"fmt"

	"github.com/openwfm/fmda"
	"github.com/openwfm/fmda/kalman"
	"gonum.org/v1/gonum/mat"
)

// InitCond implements fmda.InitCond
type InitCond struct {
	state *mat.VecDense
	cov   *mat.SymDense
}

// NewInitCond creates new InitCond and returns it
func NewInitCond(state mat.Vector, cov mat.Symmetric) *InitCond {
	s := &mat.VecDense{}
	s.CloneFromVec(state)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &InitCond{
		state: s,
		cov:   c,
	}
}

// State returns initial state
func (c *InitCond) State() mat.Vector {
	state := mat.NewVecDense(c.state.Len(), nil)
	state.CopyVec(c.state)

	return state
}

// Cov returns initial covariance
func (c *InitCond) Cov() mat.Symmetric {
	cov := mat.NewSymDense(c.cov.SymmetricDim(), nil)
	cov.CopySym(c.cov)

	return cov
}

// Step is one completed integration step of a run.
type Step struct {
	// Time is the grid time in hours
	Time float64
	// Filtered is the posterior state mean
	Filtered *mat.VecDense
	// Unfiltered is the reference state propagated without any updates
	Unfiltered *mat.VecDense
	// Cov is the posterior covariance
	Cov *mat.SymDense
	// ModelIDs are the per-class dynamics branch identifiers
	ModelIDs []int
	// Updated reports whether an observation was assimilated at this step
	Updated bool
}

// Trajectory is the append-only record of a run, owned by the caller.
type Trajectory []Step

// Loop drives Predict -> Schedule -> (Update|skip) -> Record for every grid
// point of a run. It owns the estimation state for the lifetime of one run.
type Loop struct {
	filter kalman.Filter
	model  fmda.ProcessModel
	sched  *Scheduler
	rec    *Recorder
}

// NewLoop creates a filter loop over the given filter, process model and
// observation scheduler. The recorder may be nil, which disables diagnostics.
func NewLoop(f kalman.Filter, m fmda.ProcessModel, sched *Scheduler, rec *Recorder) (*Loop, error) {
	if f == nil || m == nil || sched == nil {
		return nil, fmt.Errorf("invalid loop configuration: filter, model and scheduler are required")
	}

	return &Loop{
		filter: f,
		model:  m,
		sched:  sched,
		rec:    rec,
	}, nil
}

// Run executes the full assimilation over the time grid [h] with its aligned
// forcing series and returns the completed trajectory. The state is mutated
// exactly once per step: predict, then optionally update. Observation
// matching starts with the first advanced step, so an observation timed at
// times[0] is never consumed, same as one that falls off-grid. Any filter
// failure aborts the run immediately with the step index attached; a
// corrupted covariance would invalidate every subsequent step.
func (l *Loop) Run(init fmda.InitCond, times []float64, forcing []fmda.Forcing) (Trajectory, error) {
	if len(times) == 0 || len(times) != len(forcing) {
		return nil, fmt.Errorf("%w: %d grid times, %d forcing records", fmda.ErrDimensionMismatch, len(times), len(forcing))
	}

	nx, _ := l.model.Dims()
	if init.State().Len() != nx {
		return nil, fmt.Errorf("%w: initial state length %d, model state %d", fmda.ErrDimensionMismatch, init.State().Len(), nx)
	}

	x := mat.VecDenseCopyOf(init.State())
	xu := mat.VecDenseCopyOf(init.State())

	traj := make(Trajectory, 0, len(times))
	traj = append(traj, Step{
		Time:       times[0],
		Filtered:   mat.VecDenseCopyOf(x),
		Unfiltered: mat.VecDenseCopyOf(xu),
		Cov:        copySym(init.Cov()),
	})
	if l.rec != nil {
		l.rec.Snapshot(init.Cov())
	}

	for i := 1; i < len(times); i++ {
		// grid times are hours, the dynamics integrate in seconds
		dt := (times[i] - times[i-1]) * 3600.0

		est, err := l.filter.Predict(x, forcing[i], dt)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		x.CopyVec(est.Val())

		if l.rec != nil {
			l.rec.Predicted(est.Cov())
		}

		// the unfiltered reference sees the same forcing but no updates
		xuNext, _, err := l.model.Propagate(xu, forcing[i], dt)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		xu.CopyVec(xuNext)

		updated := false
		if ob, ok := l.sched.Match(times[i]); ok {
			est, err = l.filter.Update(x, ob.Value)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			x.CopyVec(est.Val())
			updated = true

			if l.rec != nil {
				l.rec.Updated(est.Cov(), l.filter.InnovationCov(), l.filter.Gain(), l.filter.Innovation())
			}
		}

		cov := copySym(est.Cov())
		if l.rec != nil {
			l.rec.Snapshot(cov)
		}

		traj = append(traj, Step{
			Time:       times[i],
			Filtered:   mat.VecDenseCopyOf(x),
			Unfiltered: mat.VecDenseCopyOf(xu),
			Cov:        cov,
			ModelIDs:   l.filter.ModelIDs(),
			Updated:    updated,
		})
	}

	return traj, nil
}

func copySym(c mat.Symmetric) *mat.SymDense {
	s := mat.NewSymDense(c.SymmetricDim(), nil)
	s.CopySym(c)

	return s
}
