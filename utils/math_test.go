package utils

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestInterp(t *testing.T) {
	bp := []float64{0., 30., 80., 100., 130.}
	v := []float64{0.2, 0.35, 0.63, 0.67, 0.7}

	test.That(t, Interp(-5, bp, v), test.ShouldEqual, 0.2)
	test.That(t, Interp(0, bp, v), test.ShouldEqual, 0.2)
	test.That(t, Interp(15, bp, v), test.ShouldAlmostEqual, 0.275)
	test.That(t, Interp(80, bp, v), test.ShouldAlmostEqual, 0.63)
	test.That(t, Interp(90, bp, v), test.ShouldAlmostEqual, 0.65)
	test.That(t, Interp(500, bp, v), test.ShouldEqual, 0.7)

	// Descending values are fine, only breakpoints need to ascend.
	test.That(t, Interp(17.5, []float64{10, 25}, []float64{1, 0}), test.ShouldAlmostEqual, 0.5)
	test.That(t, Interp(3, []float64{0}, []float64{4}), test.ShouldEqual, 4)
	test.That(t, Interp(3, nil, nil), test.ShouldEqual, 0)
}

func TestClipSignDeadzone(t *testing.T) {
	test.That(t, Clip(2, -1, 1), test.ShouldEqual, 1)
	test.That(t, Clip(-2, -1, 1), test.ShouldEqual, -1)
	test.That(t, Clip(0.5, -1, 1), test.ShouldEqual, 0.5)

	test.That(t, Sign(3), test.ShouldEqual, 1)
	test.That(t, Sign(-0.1), test.ShouldEqual, -1)
	test.That(t, Sign(0), test.ShouldEqual, 0)

	test.That(t, ApplyDeadzone(0.3, 0.1), test.ShouldAlmostEqual, 0.2)
	test.That(t, ApplyDeadzone(-0.3, 0.1), test.ShouldAlmostEqual, -0.2)
	test.That(t, ApplyDeadzone(0.05, 0.1), test.ShouldEqual, 0)

	test.That(t, Round(0.0026789, 6), test.ShouldAlmostEqual, 0.002679)
	test.That(t, IsFinite(math.Inf(1)), test.ShouldBeFalse)
	test.That(t, IsFinite(math.NaN()), test.ShouldBeFalse)
	test.That(t, IsFinite(1), test.ShouldBeTrue)
	test.That(t, RadToDeg(DegToRad(25)), test.ShouldAlmostEqual, 25)
}
