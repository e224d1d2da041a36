package control

import (
	"gonum.org/v1/gonum/mat"

	"github.com/hybridlat/latcontrol/utils"
)

// Speed (km/h) breakpoints mapping measured steering torque into the model's input units.
var (
	torqueScaleBP = []float64{0., 30., 80., 100., 130.}
	torqueScaleV  = []float64{0.2, 0.35, 0.63, 0.67, 0.7}
)

// TorqueScale returns the factor measured steering torque is divided by at vEgo (m/s).
func TorqueScale(vEgo float64) float64 {
	return utils.Interp(vEgo*3.6, torqueScaleBP, torqueScaleV)
}

// DynamicsModel is the discrete two state steering model, state = [angle, angle rate],
// shared by the estimator and the LQR feedback.
type DynamicsModel struct {
	A *mat.Dense    // 2x2 state transition
	B *mat.VecDense // input
	C *mat.VecDense // output row
	K *mat.VecDense // LQR gain row
	L *mat.VecDense // Kalman gain
}

// DefaultDynamicsModel returns the identified model for the stock steering rack.
func DefaultDynamicsModel() DynamicsModel {
	return DynamicsModel{
		A: mat.NewDense(2, 2, []float64{0., 1., -0.22619643, 1.21822268}),
		B: mat.NewVecDense(2, []float64{-1.92006585e-04, 3.95603032e-05}),
		C: mat.NewVecDense(2, []float64{1., 0.}),
		K: mat.NewVecDense(2, []float64{-110., 451.}),
		L: mat.NewVecDense(2, []float64{0.33, 0.318}),
	}
}

// SteerEstimator is a fixed gain Kalman filter tracking steering angle and rate.
type SteerEstimator struct {
	model DynamicsModel
	xHat  *mat.VecDense
	next  *mat.VecDense
}

// NewSteerEstimator returns an estimator starting from the zero state.
func NewSteerEstimator(model DynamicsModel) *SteerEstimator {
	return &SteerEstimator{
		model: model,
		xHat:  mat.NewVecDense(2, nil),
		next:  mat.NewVecDense(2, nil),
	}
}

// Update runs one predict/correct step from the offset corrected measured angle and the raw
// steering torque, and returns the angle predicted from the state before the update.
func (e *SteerEstimator) Update(measuredAngle, torque, torqueScale float64) float64 {
	angleK := mat.Dot(e.model.C, e.xHat)
	innovation := measuredAngle - angleK
	e.next.MulVec(e.model.A, e.xHat)
	e.next.AddScaledVec(e.next, torque/torqueScale, e.model.B)
	e.next.AddScaledVec(e.next, innovation, e.model.L)
	e.xHat.CopyVec(e.next)
	return angleK
}

// Feedback returns K·x̂.
func (e *SteerEstimator) Feedback() float64 {
	return mat.Dot(e.model.K, e.xHat)
}

// State returns the estimated angle and angle rate.
func (e *SteerEstimator) State() (angle, rate float64) {
	return e.xHat.AtVec(0), e.xHat.AtVec(1)
}

// Healthy reports whether the state is finite.
func (e *SteerEstimator) Healthy() bool {
	return utils.IsFinite(e.xHat.AtVec(0)) && utils.IsFinite(e.xHat.AtVec(1))
}

// SetModel replaces the dynamics model and zeroes the state.
func (e *SteerEstimator) SetModel(model DynamicsModel) {
	e.model = model
	e.Reset()
}

// Reset zeroes the state.
func (e *SteerEstimator) Reset() {
	e.xHat.Zero()
}
