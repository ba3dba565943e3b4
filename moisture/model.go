// Package moisture implements the time-lagged fuel-moisture dynamics and its
// tangent-linear model over an extended state: per-class moisture contents
// augmented with assimilated perturbations of the equilibria, the rain
// saturation level and the time lags.
package moisture

import (
	"fmt"
	"math"

	"github.com/milosgajdos/matrix"
	"github.com/openwfm/fmda"
	"gonum.org/v1/gonum/mat"
)

// Dynamics branch identifiers reported per fuel class.
const (
	Drying   = 1
	Wetting  = 2
	Rain     = 3
	DeadZone = 4
)

const (
	// saturationMoisture is the moisture content the rain branch relaxes to
	saturationMoisture = 2.5
	// rainThreshold is the rain intensity [mm/h] that activates the rain branch
	rainThreshold = 0.05
	// rainSatIntensity is the rain intensity scale [mm/h] of the rain lag
	rainSatIntensity = 8.0
	// rainLag is the nominal rain branch time lag [s]
	rainLag = 14.0 * 3600.0
)

// Model is the nonlinear fuel-moisture process model.
//
// The extended state is laid out as
//
//	[m_1 .. m_k, dE, dS, dTk_1 .. dTk_k, dTrk]
//
// or, with split equilibria,
//
//	[m_1 .. m_k, dEd, dEw, dS, dTk_1 .. dTk_k, dTrk]
//
// where m are the fuel-moisture contents, dE/dEd/dEw perturb the
// equilibria, dS perturbs the rain saturation level and dTk/dTrk perturb
// the time lags. The perturbations are constant in time; only the
// moisture block has dynamics.
type Model struct {
	// nk is the number of fuel classes
	nk int
	// tk are nominal per-class time lags [s]
	tk []float64
	// split selects separate drying/wetting equilibrium perturbations
	split bool
}

// NewModel creates a fuel-moisture model with the given nominal per-class
// time lags [s]. With splitEquilibria the drying and wetting equilibria are
// perturbed independently, which the EKF variant of the assimilation uses.
// It returns error if no time lags are given or any lag is non-positive.
func NewModel(timeLags []float64, splitEquilibria bool) (*Model, error) {
	if len(timeLags) == 0 {
		return nil, fmt.Errorf("no fuel classes: empty time lags")
	}

	tk := make([]float64, len(timeLags))
	for i, t := range timeLags {
		if t <= 0 {
			return nil, fmt.Errorf("invalid time lag for fuel class %d: %f", i, t)
		}
		tk[i] = t
	}

	return &Model{
		nk:    len(timeLags),
		tk:    tk,
		split: splitEquilibria,
	}, nil
}

// Dims returns the extended state and observed output dimensions.
func (m *Model) Dims() (nx, ny int) {
	nx = 2*m.nk + 3
	if m.split {
		nx++
	}

	return nx, m.nk
}

// extended state component indices
func (m *Model) idxEd() int { return m.nk }
func (m *Model) idxEw() int {
	if m.split {
		return m.nk + 1
	}
	return m.nk
}
func (m *Model) idxS() int {
	if m.split {
		return m.nk + 2
	}
	return m.nk + 1
}
func (m *Model) idxTk(i int) int { return m.idxS() + 1 + i }
func (m *Model) idxTrk() int     { return m.idxS() + 1 + m.nk }

// ExtendedState returns the extended state vector with the moisture block
// set to m0 and all perturbations zero.
// It returns error if m0 length does not equal the number of fuel classes.
func (m *Model) ExtendedState(m0 []float64) (*mat.VecDense, error) {
	if len(m0) != m.nk {
		return nil, fmt.Errorf("%w: %d initial moisture values for %d fuel classes", fmda.ErrDimensionMismatch, len(m0), m.nk)
	}

	nx, _ := m.Dims()
	x := mat.NewVecDense(nx, nil)
	for i, v := range m0 {
		x.SetVec(i, v)
	}

	return x, nil
}

// branch captures the dynamics branch of one fuel class at one state.
type branch struct {
	id int
	// equi is the relaxation target
	equi float64
	// rlag is the inverse time lag [1/s]
	rlag float64
	// lag is the perturbed time lag [s] behind rlag
	lag float64
	// equiIdx/lagIdx are the perturbation columns driving equi and rlag
	equiIdx, lagIdx int
}

// classBranch resolves the active dynamics branch of fuel class i at state x.
func (m *Model) classBranch(i int, x mat.Vector, f fmda.Forcing, ed, ew float64) branch {
	mi := x.AtVec(i)

	if f.Rain > rainThreshold {
		lag := rainLag + x.AtVec(m.idxTrk())
		sat := 1.0 - math.Exp(-(f.Rain-rainThreshold)/rainSatIntensity)
		return branch{
			id:      Rain,
			equi:    saturationMoisture + x.AtVec(m.idxS()),
			rlag:    sat / lag,
			lag:     lag,
			equiIdx: m.idxS(),
			lagIdx:  m.idxTrk(),
		}
	}

	equiD := ed + x.AtVec(m.idxEd())
	equiW := ew + x.AtVec(m.idxEw())
	lag := m.tk[i] + x.AtVec(m.idxTk(i))

	switch {
	case mi > equiD:
		return branch{id: Drying, equi: equiD, rlag: 1.0 / lag, lag: lag, equiIdx: m.idxEd(), lagIdx: m.idxTk(i)}
	case mi < equiW:
		return branch{id: Wetting, equi: equiW, rlag: 1.0 / lag, lag: lag, equiIdx: m.idxEw(), lagIdx: m.idxTk(i)}
	default:
		// between the equilibria the moisture does not change
		return branch{id: DeadZone, equi: mi, rlag: 0.0, lagIdx: m.idxTk(i)}
	}
}

// Propagate advances the extended state by dt seconds under forcing f using
// the exact exponential integrator of the relaxation dynamics. It returns the
// next state and the per-class dynamics branch identifiers.
// Propagate is a pure function of its arguments.
func (m *Model) Propagate(x mat.Vector, f fmda.Forcing, dt float64) (mat.Vector, []int, error) {
	nx, _ := m.Dims()
	if x.Len() != nx {
		return nil, nil, fmt.Errorf("%w: state length %d, want %d", fmda.ErrDimensionMismatch, x.Len(), nx)
	}

	ed, ew := EquilibriumMoisture(f.Pressure, f.VaporContent, f.Temp)

	out := mat.VecDenseCopyOf(x)
	ids := make([]int, m.nk)

	for i := 0; i < m.nk; i++ {
		b := m.classBranch(i, x, f, ed, ew)
		mi := x.AtVec(i)
		out.SetVec(i, mi+(b.equi-mi)*(1.0-math.Exp(-b.rlag*dt)))
		ids[i] = b.id
	}

	return out, ids, nil
}

// Jacobian returns the derivative of Propagate with respect to the extended
// state, evaluated at x under forcing f and step length dt. Perturbation
// components are constant in time so their rows are identity.
func (m *Model) Jacobian(x mat.Vector, f fmda.Forcing, dt float64) (mat.Matrix, error) {
	nx, _ := m.Dims()
	if x.Len() != nx {
		return nil, fmt.Errorf("%w: state length %d, want %d", fmda.ErrDimensionMismatch, x.Len(), nx)
	}

	j, err := matrix.NewDenseValIdentity(nx, 1.0)
	if err != nil {
		return nil, err
	}

	ed, ew := EquilibriumMoisture(f.Pressure, f.VaporContent, f.Temp)

	for i := 0; i < m.nk; i++ {
		b := m.classBranch(i, x, f, ed, ew)
		if b.id == DeadZone {
			continue
		}

		mi := x.AtVec(i)
		decay := math.Exp(-b.rlag * dt)

		j.Set(i, i, decay)
		j.Set(i, b.equiIdx, 1.0-decay)
		// sensitivity to the time-lag perturbation: d rlag/d lag = -rlag/lag
		j.Set(i, b.lagIdx, (b.equi-mi)*dt*decay*(-b.rlag/b.lag))
	}

	return j, nil
}
