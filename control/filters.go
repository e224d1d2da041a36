package control

import "math"

// filter is a single input, single output discrete filter.
type filter interface {
	Reset() error
	Next(x float64) (float64, bool)
}

// FirstOrderFilter is a discrete low pass filter with time constant rc.
type FirstOrderFilter struct {
	x     float64
	dt    float64
	alpha float64
}

var _ filter = (*FirstOrderFilter)(nil)

// NewFirstOrderFilter returns a filter starting at x0, sampled every dt seconds.
func NewFirstOrderFilter(x0, rc, dt float64) *FirstOrderFilter {
	f := &FirstOrderFilter{x: x0, dt: dt}
	f.UpdateAlpha(rc)
	return f
}

// UpdateAlpha changes the time constant.
func (f *FirstOrderFilter) UpdateAlpha(rc float64) {
	f.alpha = f.dt / (rc + f.dt)
}

// Alpha returns the smoothing factor.
func (f *FirstOrderFilter) Alpha() float64 {
	return f.alpha
}

// X returns the filtered value.
func (f *FirstOrderFilter) X() float64 {
	return f.x
}

// Next feeds x into the filter and returns the new filtered value. The bool is false when the
// filter state is no longer finite.
func (f *FirstOrderFilter) Next(x float64) (float64, bool) {
	f.x = (1.-f.alpha)*f.x + f.alpha*x
	return f.x, !math.IsNaN(f.x) && !math.IsInf(f.x, 0)
}

// Reset zeroes the filter.
func (f *FirstOrderFilter) Reset() error {
	f.x = 0
	return nil
}
