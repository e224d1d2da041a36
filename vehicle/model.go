// Package vehicle provides the steady-state bicycle model used to translate between path
// curvature and steering wheel angle.
package vehicle

import (
	"math"

	"github.com/hybridlat/latcontrol/config"
)

// AccelerationDueToGravity in m/s^2.
const AccelerationDueToGravity = 9.81

// Model is a linear single-track vehicle model. Steering angles are in radians at the
// steering wheel, curvature in 1/m, speed in m/s and roll in radians.
type Model struct {
	m  float64 // mass
	l  float64 // wheelbase
	aF float64 // center of gravity to front axle
	aR float64 // center of gravity to rear axle
	cF float64 // front tire stiffness
	cR float64 // rear tire stiffness
	sR float64 // steer ratio
}

// NewModel builds a model from vehicle parameters.
func NewModel(cfg config.VehicleConfig) *Model {
	return &Model{
		m:  cfg.MassKg,
		l:  cfg.Wheelbase,
		aF: cfg.CenterToFront,
		aR: cfg.Wheelbase - cfg.CenterToFront,
		cF: cfg.TireStiffnessFront,
		cR: cfg.TireStiffnessRear,
		sR: cfg.SteerRatio,
	}
}

// SetSteerRatio replaces the steer ratio, e.g. with a live estimate.
func (vm *Model) SetSteerRatio(sR float64) {
	if sR > 0 {
		vm.sR = sR
	}
}

// SteerRatio returns the current steer ratio.
func (vm *Model) SteerRatio() float64 {
	return vm.sR
}

// SlipFactor is the understeer coefficient of the vehicle.
func (vm *Model) SlipFactor() float64 {
	return vm.m * (vm.cF*vm.aR - vm.cR*vm.aF) / (vm.l * vm.l * vm.cF * vm.cR)
}

// CurvatureFactor returns the ratio between curvature and road wheel angle at speed u.
func (vm *Model) CurvatureFactor(u float64) float64 {
	sf := vm.SlipFactor()
	return 1. / (1. - sf*u*u) / vm.l
}

// RollCompensation returns the curvature induced by road roll at speed u.
func (vm *Model) RollCompensation(roll, u float64) float64 {
	sf := vm.SlipFactor()
	if math.Abs(sf) < 1e-6 {
		return 0
	}
	return (AccelerationDueToGravity * roll) / ((1 / sf) - u*u)
}

// SteerFromCurvature returns the steering wheel angle that yields curvature at speed u.
func (vm *Model) SteerFromCurvature(curvature, u, roll float64) float64 {
	return (curvature + vm.RollCompensation(roll, u)) * vm.sR / vm.CurvatureFactor(u)
}

// CurvatureFromSteer returns the curvature driven by steering wheel angle sa at speed u.
func (vm *Model) CurvatureFromSteer(sa, u, roll float64) float64 {
	return vm.CurvatureFactor(u)*sa/vm.sR - vm.RollCompensation(roll, u)
}

// DefaultSteerFeedforward scales the desired steering angle in degrees with speed squared.
func DefaultSteerFeedforward(desiredAngle, speed float64) float64 {
	return desiredAngle * speed * speed
}
