// Package ukf implements the Unscented Kalman Filter over a nonlinear
// process model with a linear selection observation operator.
package ukf

import (
	"fmt"
	"math"

	"github.com/openwfm/fmda"
	"github.com/openwfm/fmda/estimate"
	"github.com/openwfm/fmda/kalman"
	"github.com/openwfm/fmda/noise"
	"gonum.org/v1/gonum/mat"
)

// Config contains UKF configuration parameters
type Config struct {
	// W0 is the weight of the central sigma point, in [0,1).
	// The remaining 2n points share the weight (1-W0)/(2n).
	W0 float64
}

// UKF is Unscented (aka Sigma Point) Kalman Filter
type UKF struct {
	// m is UKF process model
	m fmda.ProcessModel
	// q is state noise a.k.a. process noise
	q fmda.Noise
	// r is output noise a.k.a. measurement noise
	r fmda.Noise
	// w0 is the central sigma point weight
	w0 float64
	// w is the weight of every non-central sigma point
	w float64
	// h is the observation operator
	h *mat.Dense
	// spred stores propagated sigma points in its columns
	spred *mat.Dense
	// xmean is the weighted mean of the propagated sigma points
	xmean *mat.VecDense
	// p is the UKF covariance matrix
	p *mat.SymDense
	// ppred is the UKF predicted covariance matrix
	ppred *mat.SymDense
	// pyy is the innovation covariance of the last update
	pyy *mat.SymDense
	// inn is innovation vector
	inn *mat.VecDense
	// k is Kalman gain
	k *mat.Dense
	// ids are dynamics branch identifiers from the last predict
	ids []int
}

// New creates new UKF and returns it.
// It accepts the following arguments:
// - m:    nonlinear process model
// - init: initial condition of the filter
// - q:    state a.k.a. process noise
// - r:    output a.k.a. measurement noise
// - c:    filter configuration
// It returns error if the model dimensions are invalid, the noise
// dimensions disagree with the model or the spread parameter is out of range.
func New(m fmda.ProcessModel, init fmda.InitCond, q, r fmda.Noise, c *Config) (*UKF, error) {
	nx, ny := m.Dims()
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: [%d x %d]", nx, ny)
	}

	if c == nil || c.W0 < 0 || c.W0 >= 1 {
		return nil, fmt.Errorf("invalid config supplied: %v", c)
	}

	if kalman.NilNoise(q) {
		q, _ = noise.NewNone()
	} else if q.Cov().SymmetricDim() != nx {
		return nil, fmt.Errorf("%w: state noise dimension %d", fmda.ErrDimensionMismatch, q.Cov().SymmetricDim())
	}

	if kalman.NilNoise(r) {
		r, _ = noise.NewNone()
	} else if r.Cov().SymmetricDim() != ny {
		return nil, fmt.Errorf("%w: output noise dimension %d", fmda.ErrDimensionMismatch, r.Cov().SymmetricDim())
	}

	if init.State().Len() != nx {
		return nil, fmt.Errorf("%w: initial state length %d, model state %d", fmda.ErrDimensionMismatch, init.State().Len(), nx)
	}

	// initialize covariance matrix to initial condition covariance
	p := mat.NewSymDense(init.Cov().SymmetricDim(), nil)
	p.CopySym(init.Cov())

	// predicted covariance; corrected by new measurements
	ppred := mat.NewSymDense(init.Cov().SymmetricDim(), nil)
	ppred.CopySym(init.Cov())

	h, err := kalman.NewObservationMatrix(ny, nx)
	if err != nil {
		return nil, err
	}

	return &UKF{
		m:     m,
		q:     q,
		r:     r,
		w0:    c.W0,
		w:     (1.0 - c.W0) / float64(2*nx),
		h:     h,
		spred: mat.NewDense(nx, 2*nx+1, nil),
		xmean: mat.NewVecDense(nx, nil),
		p:     p,
		ppred: ppred,
		pyy:   mat.NewSymDense(ny, nil),
		inn:   mat.NewVecDense(ny, nil),
		k:     mat.NewDense(nx, ny, nil),
	}, nil
}

// GenSigmaPoints generates 2n+1 sigma points around x from the current
// filter covariance and returns them stored in matrix columns.
// It fails with fmda.ErrNumericalInstability if the covariance square
// root cannot be computed.
func (k *UKF) GenSigmaPoints(x mat.Vector) (*mat.Dense, error) {
	nx, _ := k.m.Dims()
	if x.Len() != nx {
		return nil, fmt.Errorf("%w: state length %d, want %d", fmda.ErrDimensionMismatch, x.Len(), nx)
	}

	a, err := kalman.CholSqrt(k.p, float64(nx)/(1.0-k.w0))
	if err != nil {
		return nil, err
	}

	sp := mat.NewDense(nx, 2*nx+1, nil)
	for i := 0; i < nx; i++ {
		v := x.AtVec(i)
		sp.Set(i, 0, v)
		for j := 0; j < nx; j++ {
			sp.Set(i, 1+j, v+a.At(i, j))
			sp.Set(i, 1+nx+j, v-a.At(i, j))
		}
	}

	return sp, nil
}

// Weights returns the sigma point weights: w0 for the central point followed
// by the shared weight of the remaining 2n points. They sum to 1 by construction.
func (k *UKF) Weights() (w0, w float64) {
	return k.w0, k.w
}

// Predict advances the filter state one integration step of length dt seconds
// under forcing f and returns the predicted estimate.
// The predicted mean is the weighted mean of the propagated sigma points; the
// predicted covariance is assembled from square-root weighted deviations with
// the process noise covariance added.
func (k *UKF) Predict(x mat.Vector, f fmda.Forcing, dt float64) (fmda.Estimate, error) {
	nx, _ := k.m.Dims()

	sp, err := k.GenSigmaPoints(x)
	if err != nil {
		return nil, fmt.Errorf("failed to generate sigma points: %w", err)
	}

	// the dynamics branch indicators come from propagating the previous
	// best estimate, not the sigma ensemble
	_, ids, err := k.m.Propagate(x, f, dt)
	if err != nil {
		return nil, fmt.Errorf("failed to propagate system state: %w", err)
	}
	k.ids = ids

	_, cols := sp.Dims()
	xmean := mat.NewVecDense(nx, nil)
	for c := 0; c < cols; c++ {
		sigmaNext, _, err := k.m.Propagate(sp.ColView(c), f, dt)
		if err != nil {
			return nil, fmt.Errorf("failed to propagate sigma point: %w", err)
		}
		k.spred.SetCol(c, mat.Col(nil, 0, sigmaNext))

		if c == 0 {
			xmean.AddScaledVec(xmean, k.w0, sigmaNext)
		} else {
			xmean.AddScaledVec(xmean, k.w, sigmaNext)
		}
	}

	// square-root construction of the predicted covariance: deviations
	// scaled by the square root of their weights keep the outer product
	// symmetric PSD by construction
	devs := mat.NewDense(nx, cols, nil)
	for c := 0; c < cols; c++ {
		w := k.w
		if c == 0 {
			w = k.w0
		}
		sw := math.Sqrt(w)
		for i := 0; i < nx; i++ {
			devs.Set(i, c, sw*(k.spred.At(i, c)-xmean.AtVec(i)))
		}
	}
	k.ppred.SymOuterK(1.0, devs)

	if k.q.Cov().SymmetricDim() == nx {
		k.ppred.AddSym(k.ppred, k.q.Cov())
	}

	k.xmean.CopyVec(xmean)

	// the predicted covariance is the posterior until a measurement
	// corrects it; predict-only steps carry it into the next step
	k.p.CopySym(k.ppred)

	return estimate.NewBaseWithCov(xmean, k.ppred)
}

// Update corrects the predicted state x using the measurement z and returns
// the corrected estimate. It fails with fmda.ErrSingularInnovation if the
// innovation covariance is not invertible.
func (k *UKF) Update(x, z mat.Vector) (fmda.Estimate, error) {
	nx, ny := k.m.Dims()

	if x.Len() != nx {
		return nil, fmt.Errorf("%w: state length %d, want %d", fmda.ErrDimensionMismatch, x.Len(), nx)
	}

	if z.Len() != ny {
		return nil, fmt.Errorf("%w: measurement length %d, want %d", fmda.ErrDimensionMismatch, z.Len(), ny)
	}

	_, cols := k.spred.Dims()

	// predicted sigma point observations
	y := mat.NewDense(ny, cols, nil)
	y.Mul(k.h, k.spred)

	ymean := mat.NewVecDense(ny, nil)
	for c := 0; c < cols; c++ {
		if c == 0 {
			ymean.AddScaledVec(ymean, k.w0, y.ColView(c))
		} else {
			ymean.AddScaledVec(ymean, k.w, y.ColView(c))
		}
	}

	// pxy is the state/output cross covariance, pyy the innovation covariance
	pxy := mat.NewDense(nx, ny, nil)
	pyy := mat.NewDense(ny, ny, nil)

	dx := mat.NewVecDense(nx, nil)
	dy := mat.NewVecDense(ny, nil)
	covxy := mat.NewDense(nx, ny, nil)
	covyy := mat.NewDense(ny, ny, nil)

	for c := 0; c < cols; c++ {
		dx.SubVec(k.spred.ColView(c), k.xmean)
		dy.SubVec(y.ColView(c), ymean)

		covxy.Mul(dx, dy.T())
		covyy.Mul(dy, dy.T())

		w := k.w
		if c == 0 {
			w = k.w0
		}
		covxy.Scale(w, covxy)
		covyy.Scale(w, covyy)

		pxy.Add(pxy, covxy)
		pyy.Add(pyy, covyy)
	}

	if k.r.Cov().SymmetricDim() == ny {
		pyy.Add(pyy, k.r.Cov())
	}

	// calculate Kalman gain
	pyyInv := &mat.Dense{}
	if err := pyyInv.Inverse(pyy); err != nil {
		return nil, fmt.Errorf("%w: %v", fmda.ErrSingularInnovation, err)
	}
	gain := &mat.Dense{}
	gain.Mul(pxy, pyyInv)

	// innovation vector
	inn := &mat.VecDense{}
	inn.SubVec(z, ymean)

	// correct state x
	corr := &mat.Dense{}
	corr.Mul(gain, inn)
	xUpd := mat.VecDenseCopyOf(x)
	xUpd.AddVec(xUpd, corr.ColView(0))

	// correct UKF covariance: P = Ppred - K*S*K'
	ks := &mat.Dense{}
	ks.Mul(pyy, gain.T())
	pCorr := &mat.Dense{}
	pCorr.Mul(gain, ks)
	pCorr.Sub(k.ppred, pCorr)

	if err := kalman.Symmetrize(k.p, pCorr); err != nil {
		return nil, err
	}

	k.inn.CopyVec(inn)
	k.k.Copy(gain)
	if err := kalman.Symmetrize(k.pyy, pyy); err != nil {
		return nil, err
	}

	return estimate.NewBaseWithCov(xUpd, k.p)
}

// Cov returns UKF covariance
func (k *UKF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

// SetCov sets UKF covariance matrix to cov.
// It returns error if cov dimensions disagree with the filter state.
func (k *UKF) SetCov(cov mat.Symmetric) error {
	if cov == nil || cov.SymmetricDim() != k.p.SymmetricDim() {
		return fmt.Errorf("%w: invalid covariance matrix", fmda.ErrDimensionMismatch)
	}

	k.p.CopySym(cov)

	return nil
}

// InnovationCov returns the innovation covariance of the last update
func (k *UKF) InnovationCov() mat.Symmetric {
	pyy := mat.NewSymDense(k.pyy.SymmetricDim(), nil)
	pyy.CopySym(k.pyy)

	return pyy
}

// Innovation returns the innovation vector of the last update
func (k *UKF) Innovation() mat.Vector {
	inn := mat.NewVecDense(k.inn.Len(), nil)
	inn.CopyVec(k.inn)

	return inn
}

// Gain returns Kalman gain
func (k *UKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(k.k)

	return gain
}

// ModelIDs returns the dynamics branch identifiers recorded by the last predict
func (k *UKF) ModelIDs() []int {
	ids := make([]int, len(k.ids))
	copy(ids, k.ids)

	return ids
}
