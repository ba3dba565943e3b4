package assim

import (
	"github.com/openwfm/fmda/kalman"
	"github.com/openwfm/fmda/stats"
	"gonum.org/v1/gonum/mat"
)

// Recorder collects scalar and matrix traces of a filter run for later
// reporting. It is a pure observer: nothing it stores feeds back into the
// filter state.
type Recorder struct {
	// PredGenVar holds the generalized variance of the predicted
	// covariance, one entry per step
	PredGenVar []float64
	// PostGenVar holds the generalized variance of the post-update
	// covariance at observation steps
	PostGenVar []float64
	// InnGenVar holds the generalized variance of the innovation
	// covariance at observation steps
	InnGenVar []float64
	// GainGenVar holds the generalized variance of the directly-observed
	// block of the Kalman gain at observation steps
	GainGenVar []float64
	// Covs holds full covariance snapshots, one per step, for
	// variance-band reporting
	Covs []*mat.SymDense

	// residuals tracks running innovation statistics
	residuals *stats.OnlineVariance
}

// NewRecorder creates an empty recorder. The residual estimator is seeded
// with the given prior variance.
func NewRecorder(priorResidualVar float64) *Recorder {
	return &Recorder{
		residuals: stats.NewOnlineVariance(0.0, priorResidualVar, 1),
	}
}

// Predicted records the diagnostics of a predict step.
func (r *Recorder) Predicted(cov mat.Symmetric) {
	r.PredGenVar = append(r.PredGenVar, kalman.GeneralizedVariance(cov))
}

// Updated records the diagnostics of an update step: the corrected
// covariance, the innovation covariance, the gain and the innovation itself.
func (r *Recorder) Updated(cov, innCov mat.Symmetric, gain mat.Matrix, inn mat.Vector) {
	r.PostGenVar = append(r.PostGenVar, kalman.GeneralizedVariance(cov))
	r.InnGenVar = append(r.InnGenVar, kalman.GeneralizedVariance(innCov))

	// restrict the gain to the directly-observed block
	ny := innCov.SymmetricDim()
	kb := mat.NewDense(ny, ny, nil)
	for i := 0; i < ny; i++ {
		for j := 0; j < ny; j++ {
			kb.Set(i, j, gain.At(i, j))
		}
	}
	r.GainGenVar = append(r.GainGenVar, mat.Det(kb))

	for i := 0; i < inn.Len(); i++ {
		r.residuals.Update(inn.AtVec(i))
	}
}

// Snapshot stores the full covariance of the step that just completed.
func (r *Recorder) Snapshot(cov mat.Symmetric) {
	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)
	r.Covs = append(r.Covs, c)
}

// ResidualMean returns the running mean of the innovation components.
func (r *Recorder) ResidualMean() float64 {
	return r.residuals.Mean()
}

// ResidualVariance returns the running variance of the innovation components.
func (r *Recorder) ResidualVariance() float64 {
	return r.residuals.Variance()
}
