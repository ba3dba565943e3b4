package noise

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// psdTol bounds how negative an eigenvalue may be before the covariance is
// rejected as indefinite.
const psdTol = 1e-10

// Gaussian is gaussian noise with a fixed covariance. The covariance only
// needs to be positive semi-definite: a singular covariance, such as process
// noise injected into the observed block only, is a valid carrier. The
// filters consume its covariance; Sample is used by simulations which
// generate synthetic measurements.
type Gaussian struct {
	// dist is a multivariate normal distribution, nil unless the
	// covariance is positive definite
	dist *distmv.Normal
	// sqrt is the eigenvalue square root of the covariance, the sampling
	// fallback for singular covariances
	sqrt *mat.Dense
	// rnd drives both samplers
	rnd *rand.Rand
	// mean is Gaussian mean
	mean []float64
	// cov is Gaussian covariance
	cov *mat.SymDense
}

// NewGaussian creates new Gaussian noise with given mean and covariance.
// It returns error if the supplied covariance is not positive semi-definite
// or if its dimension disagrees with the mean length.
func NewGaussian(mean []float64, cov mat.Symmetric) (*Gaussian, error) {
	if len(mean) != cov.SymmetricDim() {
		return nil, fmt.Errorf("mean length %d does not match covariance dimension %d", len(mean), cov.SymmetricDim())
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, fmt.Errorf("failed to factorize covariance")
	}

	vals := eig.Values(nil)
	for i, v := range vals {
		if v < -psdTol {
			return nil, fmt.Errorf("covariance is not positive semi-definite")
		}
		if v < 0 {
			vals[i] = 0
		}
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	n := len(mean)
	sqrt := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		s := math.Sqrt(vals[j])
		for i := 0; i < n; i++ {
			sqrt.Set(i, j, s*vecs.At(i, j))
		}
	}

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	m := make([]float64, len(mean))
	copy(m, mean)

	g := &Gaussian{
		sqrt: sqrt,
		rnd:  rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
		mean: m,
		cov:  c,
	}
	// distmv rejects singular covariances, so it is optional here
	if dist, ok := distmv.NewNormal(m, c, g.rnd); ok {
		g.dist = dist
	}

	return g, nil
}

// Sample generates a sample from Gaussian noise and returns it.
func (g *Gaussian) Sample() mat.Vector {
	if g.dist != nil {
		r := g.dist.Rand(nil)
		return mat.NewVecDense(len(r), r)
	}

	n := len(g.mean)
	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, g.rnd.NormFloat64())
	}

	s := mat.NewVecDense(n, nil)
	s.MulVec(g.sqrt, z)
	s.AddVec(s, mat.NewVecDense(n, g.mean))

	return s
}

// Cov returns covariance matrix of Gaussian noise.
func (g *Gaussian) Cov() mat.Symmetric {
	cov := mat.NewSymDense(g.cov.SymmetricDim(), nil)
	cov.CopySym(g.cov)

	return cov
}

// Mean returns Gaussian mean.
func (g *Gaussian) Mean() []float64 {
	mean := make([]float64, len(g.mean))
	copy(mean, g.mean)

	return mean
}

// Reset resets Gaussian noise: it reseeds the underlying samplers.
func (g *Gaussian) Reset() {
	g.rnd = rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	if dist, ok := distmv.NewNormal(g.mean, g.cov, g.rnd); ok {
		g.dist = dist
	}
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nMean=%v\nCov=%v\n}", g.mean, mat.Formatted(g.cov, mat.Prefix("    "), mat.Squeeze()))
}
