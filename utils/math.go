package utils

import (
	"math"
)

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sign returns -1, 0 or 1 following the sign of v.
func Sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Interp evaluates the piecewise-linear function through the breakpoints (bp[i], v[i]) at x.
// bp must be ascending and the same length as v. Outside the table the end values are held.
func Interp(x float64, bp, v []float64) float64 {
	n := len(bp)
	if n == 0 || n != len(v) {
		return 0
	}
	if x <= bp[0] {
		return v[0]
	}
	if x >= bp[n-1] {
		return v[n-1]
	}
	hi := 1
	for hi < n-1 && bp[hi] < x {
		hi++
	}
	lo := hi - 1
	if bp[hi] == bp[lo] {
		return v[hi]
	}
	return v[lo] + (x-bp[lo])*(v[hi]-v[lo])/(bp[hi]-bp[lo])
}

// ApplyDeadzone shrinks v toward zero by deadzone, returning zero inside the band.
func ApplyDeadzone(v, deadzone float64) float64 {
	switch {
	case v > deadzone:
		return v - deadzone
	case v < -deadzone:
		return v + deadzone
	}
	return 0
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
