// Package ekf implements the Extended Kalman Filter over a nonlinear
// process model with a linear selection observation operator. The
// tangent-linear model comes from the process model itself when it
// provides one; otherwise the Jacobian is approximated with central
// finite differences.
package ekf

import (
	"fmt"

	"github.com/openwfm/fmda"
	"github.com/openwfm/fmda/estimate"
	"github.com/openwfm/fmda/kalman"
	"github.com/openwfm/fmda/noise"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// EKF is Extended Kalman Filter
type EKF struct {
	// m is EKF process model
	m fmda.ProcessModel
	// jm is the analytic tangent-linear model, nil when unavailable
	jm fmda.JacobianModel
	// q is state noise a.k.a. process noise
	q fmda.Noise
	// r is output noise a.k.a. measurement noise
	r fmda.Noise
	// f is EKF propagation Jacobian matrix
	f *mat.Dense
	// h is the observation operator
	h *mat.Dense
	// p is the EKF covariance matrix
	p *mat.SymDense
	// ppred is the EKF predicted covariance matrix
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

// New creates new EKF and returns it.
// It accepts the following parameters:
// - m:    nonlinear process model
// - init: initial condition of the filter
// - q:    state a.k.a. process noise
// - r:    output a.k.a. measurement noise
// It returns error if the model dimensions are invalid or either noise
// dimension disagrees with the model.
func New(m fmda.ProcessModel, init fmda.InitCond, q, r fmda.Noise) (*EKF, error) {
	nx, ny := m.Dims()
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: [%d x %d]", nx, ny)
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

	// predicted state covariance
	ppred := mat.NewSymDense(init.Cov().SymmetricDim(), nil)
	ppred.CopySym(init.Cov())

	h, err := kalman.NewObservationMatrix(ny, nx)
	if err != nil {
		return nil, err
	}

	jm, _ := m.(fmda.JacobianModel)

	return &EKF{
		m:     m,
		jm:    jm,
		q:     q,
		r:     r,
		f:     mat.NewDense(nx, nx, nil),
		h:     h,
		p:     p,
		ppred: ppred,
		pyy:   mat.NewSymDense(ny, nil),
		inn:   mat.NewVecDense(ny, nil),
		k:     mat.NewDense(nx, ny, nil),
	}, nil
}

// jacobian fills k.f with the propagation Jacobian at x. The analytic
// tangent-linear model is preferred; central finite differences over the
// nonlinear model are the fallback.
func (k *EKF) jacobian(x mat.Vector, f fmda.Forcing, dt float64) error {
	if k.jm != nil {
		j, err := k.jm.Jacobian(x, f, dt)
		if err != nil {
			return err
		}
		k.f.Copy(j)

		return nil
	}

	fn := func(xOut, xNow []float64) {
		xNext, _, err := k.m.Propagate(mat.NewVecDense(len(xNow), xNow), f, dt)
		if err != nil {
			panic(err)
		}
		for i := 0; i < len(xOut); i++ {
			xOut[i] = xNext.AtVec(i)
		}
	}
	fd.Jacobian(k.f, fn, mat.Col(nil, 0, x), &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: true,
	})

	return nil
}

// Predict advances the filter state one integration step of length dt seconds
// under forcing f and returns the predicted estimate. The predicted covariance
// is the congruence transform J*P*J' with the process noise covariance added.
func (k *EKF) Predict(x mat.Vector, f fmda.Forcing, dt float64) (fmda.Estimate, error) {
	nx, _ := k.m.Dims()
	if x.Len() != nx {
		return nil, fmt.Errorf("%w: state length %d, want %d", fmda.ErrDimensionMismatch, x.Len(), nx)
	}

	// propagate input state to the next step
	xNext, ids, err := k.m.Propagate(x, f, dt)
	if err != nil {
		return nil, fmt.Errorf("system state propagation failed: %w", err)
	}
	k.ids = ids

	// the Jacobian is evaluated at the previous mean
	if err := k.jacobian(x, f, dt); err != nil {
		return nil, fmt.Errorf("failed to calculate propagation Jacobian: %w", err)
	}

	cov := &mat.Dense{}
	cov.Mul(k.f, k.p)
	cov.Mul(cov, k.f.T())

	if k.q.Cov().SymmetricDim() == nx {
		cov.Add(cov, k.q.Cov())
	}

	if err := kalman.Symmetrize(k.ppred, cov); err != nil {
		return nil, err
	}

	// the predicted covariance is the posterior until a measurement
	// corrects it; predict-only steps carry it into the next step
	k.p.CopySym(k.ppred)

	return estimate.NewBaseWithCov(xNext, k.ppred)
}

// Update corrects the predicted state x using the measurement z and returns
// the corrected estimate. It fails with fmda.ErrSingularInnovation if the
// innovation covariance is not invertible.
func (k *EKF) Update(x, z mat.Vector) (fmda.Estimate, error) {
	nx, ny := k.m.Dims()

	if x.Len() != nx {
		return nil, fmt.Errorf("%w: state length %d, want %d", fmda.ErrDimensionMismatch, x.Len(), nx)
	}

	if z.Len() != ny {
		return nil, fmt.Errorf("%w: measurement length %d, want %d", fmda.ErrDimensionMismatch, z.Len(), ny)
	}

	// predicted observation: the operator is a plain selection, no
	// additional linearization error enters here
	y := mat.NewVecDense(ny, nil)
	y.MulVec(k.h, x)

	pxy := mat.NewDense(nx, ny, nil)
	pyy := mat.NewDense(ny, ny, nil)

	// P*H'
	pxy.Mul(k.ppred, k.h.T())

	// H*P*H' + R
	pyy.Mul(k.h, pxy)
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
	inn.SubVec(z, y)

	// correct state x
	corr := &mat.Dense{}
	corr.Mul(gain, inn)
	xUpd := mat.VecDenseCopyOf(x)
	xUpd.AddVec(xUpd, corr.ColView(0))

	// correct EKF covariance: P = Ppred - K*S*K'
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

// Cov returns EKF covariance
func (k *EKF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

// SetCov sets EKF covariance matrix to cov.
// It returns error if cov dimensions disagree with the filter state.
func (k *EKF) SetCov(cov mat.Symmetric) error {
	if cov == nil || cov.SymmetricDim() != k.p.SymmetricDim() {
		return fmt.Errorf("%w: invalid covariance matrix", fmda.ErrDimensionMismatch)
	}

	k.p.CopySym(cov)

	return nil
}

// InnovationCov returns the innovation covariance of the last update
func (k *EKF) InnovationCov() mat.Symmetric {
	pyy := mat.NewSymDense(k.pyy.SymmetricDim(), nil)
	pyy.CopySym(k.pyy)

	return pyy
}

// Innovation returns the innovation vector of the last update
func (k *EKF) Innovation() mat.Vector {
	inn := mat.NewVecDense(k.inn.Len(), nil)
	inn.CopyVec(k.inn)

	return inn
}

// Gain returns Kalman gain
func (k *EKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(k.k)

	return gain
}

// ModelIDs returns the dynamics branch identifiers recorded by the last predict
func (k *EKF) ModelIDs() []int {
	ids := make([]int, len(k.ids))
	copy(ids, k.ids)

	return ids
}
