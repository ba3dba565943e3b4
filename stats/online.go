// Package stats provides the running statistics used by the assimilation
// diagnostics.
package stats

// OnlineVariance keeps a running estimate of the mean and variance of a
// scalar series using Welford's online algorithm. It is seeded with prior
// information so early estimates stay usable.
type OnlineVariance struct {
	n    int
	mean float64
	m2   float64
}

// NewOnlineVariance creates a running estimator seeded with a prior mean,
// prior variance and prior sample count.
func NewOnlineVariance(mean, variance float64, n int) *OnlineVariance {
	return &OnlineVariance{
		n:    n,
		mean: mean,
		m2:   variance,
	}
}

// Update acquires a new sample and updates the statistics.
func (o *OnlineVariance) Update(x float64) {
	o.n++
	delta := x - o.mean
	o.mean += delta / float64(o.n)
	o.m2 += delta * (x - o.mean)
}

// Mean returns the current mean estimate.
func (o *OnlineVariance) Mean() float64 {
	return o.mean
}

// Variance returns the current variance estimate.
func (o *OnlineVariance) Variance() float64 {
	if o.n < 2 {
		return o.m2
	}
	return o.m2 / float64(o.n-1)
}

// Count returns the number of samples seen, including the prior count.
func (o *OnlineVariance) Count() int {
	return o.n
}
