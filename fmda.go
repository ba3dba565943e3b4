// Package fmda provides recursive state estimation for time-lagged
// fuel-moisture dynamics: the interfaces the filters are built around
// and the error kinds every filter run can surface.
package fmda

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// Forcing is the external meteorological forcing driving the dynamics
// over one integration step. All sigma points of a step are propagated
// with the same forcing.
type Forcing struct {
	// Temp is surface temperature in Kelvin
	Temp float64
	// VaporContent is water vapor mixing ratio in kg/kg
	VaporContent float64
	// Pressure is surface pressure in Pa
	Pressure float64
	// Rain is rainfall intensity in mm/h
	Rain float64
}

// ProcessModel is a nonlinear model of the system dynamics.
// Propagate must be a pure function of its arguments: the filters
// evaluate it repeatedly per step and combine the results.
type ProcessModel interface {
	// Propagate advances state x by dt seconds under forcing f.
	// It returns the next state together with the identifiers of the
	// dynamics branch active in each observed component.
	Propagate(x mat.Vector, f Forcing, dt float64) (mat.Vector, []int, error)
	// Dims returns state and observed-output dimensions of the model
	Dims() (nx, ny int)
}

// JacobianModel is a process model with an analytic tangent-linear model.
type JacobianModel interface {
	// Jacobian returns the derivative of Propagate with respect to x,
	// evaluated at x under forcing f and step length dt.
	Jacobian(x mat.Vector, f Forcing, dt float64) (mat.Matrix, error)
}

// Filter is a recursive dynamical system filter.
type Filter interface {
	// Predict estimates the next internal state of the system
	Predict(x mat.Vector, f Forcing, dt float64) (Estimate, error)
	// Update corrects the predicted state based on external measurement
	Update(x, z mat.Vector) (Estimate, error)
}

// InitCond is initial state condition of the filter
type InitCond interface {
	// State returns initial filter state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Estimate is dynamical system filter estimate
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Reset resets the noise
	Reset()
}

var (
	// ErrNumericalInstability means a covariance square root could not be
	// computed: the covariance drifted away from positive semi-definiteness.
	ErrNumericalInstability = errors.New("numerical instability: covariance decomposition failed")
	// ErrSingularInnovation means the innovation covariance is not invertible.
	ErrSingularInnovation = errors.New("singular innovation covariance")
	// ErrDimensionMismatch means state, noise or observation dimensions disagree.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrObservationOrdering means the observation series is not strictly
	// increasing in time.
	ErrObservationOrdering = errors.New("observations not in strictly increasing time order")
)
