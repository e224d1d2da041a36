package control

import (
	"github.com/hybridlat/latcontrol/utils"
)

// Gain is a speed scheduled gain: V[i] applies at speed BP[i], linearly interpolated between.
type Gain struct {
	BP []float64
	V  []float64
}

// ConstantGain returns a gain that does not depend on speed.
func ConstantGain(v float64) Gain {
	return Gain{BP: []float64{0.}, V: []float64{v}}
}

// At evaluates the gain at speed.
func (g Gain) At(speed float64) float64 {
	return utils.Interp(speed, g.BP, g.V)
}

// PIDInput is one step of input to a PIDController.
type PIDInput struct {
	Error            float64
	ErrorRate        float64
	Speed            float64
	Feedforward      float64
	Override         bool
	FreezeIntegrator bool
}

// PIDController is a PID with feedforward, override unwinding and one sided anti-windup.
type PIDController struct {
	kp, ki, kd Gain
	kf         float64

	posLimit    float64
	negLimit    float64
	iRate       float64
	iUnwindRate float64

	p, i, d, f float64
	control    float64
	speed      float64
	saturated  bool
}

// NewPIDController returns a controller stepping at rateHz with output limited to [-1, 1].
func NewPIDController(kp, ki, kd Gain, kf, rateHz float64) *PIDController {
	return &PIDController{
		kp:          kp,
		ki:          ki,
		kd:          kd,
		kf:          kf,
		posLimit:    1.,
		negLimit:    -1.,
		iRate:       1. / rateHz,
		iUnwindRate: 0.3 / rateHz,
	}
}

// SetGains replaces the gains.
func (pc *PIDController) SetGains(kp, ki, kd Gain, kf float64) {
	pc.kp, pc.ki, pc.kd, pc.kf = kp, ki, kd, kf
}

// SetLimits sets the output bounds.
func (pc *PIDController) SetLimits(neg, pos float64) {
	pc.negLimit, pc.posLimit = neg, pos
}

// Reset clears the accumulated state.
func (pc *PIDController) Reset() {
	pc.p, pc.i, pc.d, pc.f = 0, 0, 0, 0
	pc.control = 0
	pc.saturated = false
}

// Update steps the controller and returns the clipped output.
func (pc *PIDController) Update(in PIDInput) float64 {
	pc.speed = in.Speed

	pc.p = in.Error * pc.kp.At(in.Speed)
	pc.f = in.Feedforward * pc.kf
	pc.d = in.ErrorRate * pc.kd.At(in.Speed)

	if in.Override {
		pc.i -= pc.iUnwindRate * utils.Sign(pc.i)
	} else {
		i := pc.i + in.Error*pc.ki.At(in.Speed)*pc.iRate
		control := pc.p + i + pc.d + pc.f

		// Only let the integrator grow while the output is not pushed past the limit it is
		// already winding toward.
		if (in.Error >= 0 && (control <= pc.posLimit || i < 0.)) ||
			(in.Error <= 0 && (control >= pc.negLimit || i > 0.)) {
			if !in.FreezeIntegrator {
				pc.i = i
			}
		}
	}

	control := pc.p + pc.i + pc.d + pc.f
	pc.saturated = control > pc.posLimit || control < pc.negLimit
	pc.control = utils.Clip(control, pc.negLimit, pc.posLimit)
	return pc.control
}

// Terms returns the last proportional, integral, derivative and feedforward contributions.
func (pc *PIDController) Terms() (p, i, d, f float64) {
	return pc.p, pc.i, pc.d, pc.f
}

// Integral returns the integrator state.
func (pc *PIDController) Integral() float64 {
	return pc.i
}

// Saturated reports whether the last unclipped output was outside the limits.
func (pc *PIDController) Saturated() bool {
	return pc.saturated
}
