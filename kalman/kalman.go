// Package kalman holds the interface shared by the Kalman-type filters
// and the covariance hygiene helpers they rely on.
package kalman

import (
	"fmt"
	"math"
	"reflect"

	"github.com/openwfm/fmda"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Filter is a Kalman-type filter over a nonlinear process model.
type Filter interface {
	// fmda.Filter is dynamical system filter
	fmda.Filter
	// Cov returns filter state covariance
	Cov() mat.Symmetric
	// InnovationCov returns the innovation covariance of the last update
	InnovationCov() mat.Symmetric
	// Innovation returns the innovation vector of the last update
	Innovation() mat.Vector
	// Gain returns Kalman gain of the last update
	Gain() mat.Matrix
	// ModelIDs returns dynamics branch identifiers from the last predict
	ModelIDs() []int
}

// NilNoise reports whether n carries no noise source: either a nil interface
// or a typed-nil pointer stored in the interface, which a plain nil
// comparison misses when a constructor error was discarded.
func NilNoise(n fmda.Noise) bool {
	if n == nil {
		return true
	}

	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// NewObservationMatrix returns the fixed ny x nx selection operator:
// identity on the first ny columns, zero elsewhere. It encodes direct
// observation of the fuel-moisture block of the extended state.
func NewObservationMatrix(ny, nx int) (*mat.Dense, error) {
	if ny <= 0 || nx < ny {
		return nil, fmt.Errorf("%w: observation operator %d x %d", fmda.ErrDimensionMismatch, ny, nx)
	}

	h := mat.NewDense(ny, nx, nil)
	for i := 0; i < ny; i++ {
		h.Set(i, i, 1.0)
	}

	return h, nil
}

// Symmetrize sets dst to (m + m')/2. Repeated floating-point updates drift
// covariances away from exact symmetry; every filter update passes through
// here before the covariance is stored.
func Symmetrize(dst *mat.SymDense, m mat.Matrix) error {
	r, c := m.Dims()
	if r != c || dst.SymmetricDim() != r {
		return fmt.Errorf("%w: cannot symmetrize %d x %d into %d x %d", fmda.ErrDimensionMismatch, r, c, dst.SymmetricDim(), dst.SymmetricDim())
	}

	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			dst.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}

	return nil
}

// GeneralizedVariance returns the product of the eigenvalues of c, a scalar
// summary of the uncertainty volume the covariance spans. Tiny negative
// eigenvalues introduced by floating-point error are clamped to zero.
func GeneralizedVariance(c mat.Symmetric) float64 {
	var eig mat.EigenSym
	if ok := eig.Factorize(c, false); !ok {
		return math.NaN()
	}

	vals := eig.Values(nil)
	for i, v := range vals {
		if v < 0 {
			vals[i] = 0
		}
	}

	return floats.Prod(vals)
}

// CholSqrt returns the lower-triangular Cholesky factor of scale*p.
// It fails with fmda.ErrNumericalInstability if the scaled covariance is
// not numerically positive definite.
func CholSqrt(p mat.Symmetric, scale float64) (*mat.TriDense, error) {
	n := p.SymmetricDim()

	scaled := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			scaled.SetSym(i, j, scale*p.At(i, j))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(scaled); !ok {
		return nil, fmda.ErrNumericalInstability
	}

	l := mat.NewTriDense(n, mat.Lower, nil)
	chol.LTo(l)

	return l, nil
}
