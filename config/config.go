// Package config defines the host configuration of the lateral control stack and the loosely
// typed attribute maps tuning files are read into.
package config

import (
	"math"

	"github.com/pkg/errors"
)

// Lateral control modes.
const (
	ModeHybrid = "hybrid"
	ModeTorque = "torque"
	ModeINDI   = "indi"
)

// DefaultTuningDir is where tuning files live unless configured otherwise.
const DefaultTuningDir = "/data/ntune"

// A Config describes how the lateral controller is run.
type Config struct {
	FrequencyHz              float64       `json:"frequency_hz"`
	MinSteerSpeed            float64       `json:"min_steer_speed"`
	SteerMax                 float64       `json:"steer_max"`
	SteerLimitTimer          float64       `json:"steer_limit_timer"`
	LateralMode              string        `json:"lateral_mode"`
	TuningDir                string        `json:"tuning_dir"`
	DisableLateralLiveTuning bool          `json:"disable_lateral_live_tuning"`
	Vehicle                  VehicleConfig `json:"vehicle"`
	LQR                      LQRConfig     `json:"lqr"`
	Torque                   TorqueConfig  `json:"torque"`
	INDI                     INDIConfig    `json:"indi"`

	ConfigFilePath string `json:"-"`
}

// VehicleConfig holds the physical parameters the vehicle model needs.
type VehicleConfig struct {
	MassKg             float64 `json:"mass_kg"`
	Wheelbase          float64 `json:"wheelbase"`
	CenterToFront      float64 `json:"center_to_front"`
	SteerRatio         float64 `json:"steer_ratio"`
	TireStiffnessFront float64 `json:"tire_stiffness_front"`
	TireStiffnessRear  float64 `json:"tire_stiffness_rear"`
	SteerActuatorDelay float64 `json:"steer_actuator_delay"`
	SteerRateCost      float64 `json:"steer_rate_cost"`
}

// LQRConfig holds the initial gains of the blended LQR/PID controller.
type LQRConfig struct {
	Scale  float64 `json:"scale"`
	Ki     float64 `json:"ki"`
	DcGain float64 `json:"dc_gain"`
}

// TorqueConfig holds the initial gains of the lateral acceleration controller.
type TorqueConfig struct {
	UseSteeringAngle bool    `json:"use_steering_angle"`
	Kp               float64 `json:"kp"`
	Ki               float64 `json:"ki"`
	Kf               float64 `json:"kf"`
	Kd               float64 `json:"kd"`
	Friction         float64 `json:"friction"`
	Deadzone         float64 `json:"deadzone"`
}

// INDIConfig holds the initial gains of the incremental nonlinear dynamic inversion controller.
type INDIConfig struct {
	InnerLoopGain         float64 `json:"inner_loop_gain"`
	OuterLoopGain         float64 `json:"outer_loop_gain"`
	TimeConstant          float64 `json:"time_constant"`
	ActuatorEffectiveness float64 `json:"actuator_effectiveness"`
}

// Default returns a configuration for a mid-size sedan running the hybrid controller at 100Hz.
func Default() Config {
	const maxLatAccel = 2.0
	return Config{
		FrequencyHz:     100,
		MinSteerSpeed:   0.3,
		SteerMax:        1.0,
		SteerLimitTimer: 2.5,
		LateralMode:     ModeHybrid,
		TuningDir:       DefaultTuningDir,
		Vehicle: VehicleConfig{
			MassKg:             1736,
			Wheelbase:          2.7,
			CenterToFront:      2.7 * 0.4,
			SteerRatio:         16.5,
			TireStiffnessFront: 200000,
			TireStiffnessRear:  210000,
			SteerActuatorDelay: 0.1,
			SteerRateCost:      0.4,
		},
		LQR: LQRConfig{
			Scale:  1600,
			Ki:     0.01,
			DcGain: 0.0025,
		},
		Torque: TorqueConfig{
			UseSteeringAngle: true,
			Kp:               1.0 / maxLatAccel,
			Kf:               1.0 / maxLatAccel,
			Ki:               0.1 / maxLatAccel,
			Friction:         0.01,
		},
		INDI: INDIConfig{
			InnerLoopGain:         3.3,
			OuterLoopGain:         2.8,
			TimeConstant:          1.4,
			ActuatorEffectiveness: 1.8,
		},
	}
}

// Period returns the control period in seconds.
func (c *Config) Period() float64 {
	return 1.0 / c.FrequencyHz
}

// Validate ensures all parts of the config are usable.
func (c *Config) Validate(path string) error {
	if c.FrequencyHz <= 0 || c.FrequencyHz > 200 {
		return errors.Errorf("%s: frequency_hz shouldn't be 0 or above 200Hz, got %v", path, c.FrequencyHz)
	}
	if c.MinSteerSpeed < 0 {
		return errors.Errorf("%s: min_steer_speed must be non-negative", path)
	}
	if c.SteerMax <= 0 || !isFinite(c.SteerMax) {
		return errors.Errorf("%s: steer_max must be positive", path)
	}
	if c.SteerLimitTimer <= 0 {
		return errors.Errorf("%s: steer_limit_timer must be positive", path)
	}
	switch c.LateralMode {
	case ModeHybrid, ModeTorque, ModeINDI:
	default:
		return errors.Errorf("%s: unsupported lateral_mode %q", path, c.LateralMode)
	}
	if c.TuningDir == "" {
		return errors.Errorf("%s: tuning_dir is required", path)
	}
	if err := c.Vehicle.Validate(path + ".vehicle"); err != nil {
		return err
	}
	if c.LateralMode == ModeTorque && c.Torque.Kf <= 0 {
		return errors.Errorf("%s.torque: kf must be positive", path)
	}
	if c.LateralMode == ModeHybrid && (c.LQR.Scale <= 0 || !isFinite(c.LQR.Scale)) {
		return errors.Errorf("%s.lqr: scale must be positive", path)
	}
	if c.LateralMode == ModeHybrid && c.LQR.DcGain <= 0 {
		return errors.Errorf("%s.lqr: dc_gain must be positive", path)
	}
	if c.LateralMode == ModeINDI && (c.INDI.ActuatorEffectiveness <= 0 || !isFinite(c.INDI.ActuatorEffectiveness)) {
		return errors.Errorf("%s.indi: actuator_effectiveness must be positive", path)
	}
	return nil
}

// Validate ensures the vehicle parameters describe a physical vehicle.
func (vc *VehicleConfig) Validate(path string) error {
	for name, v := range map[string]float64{
		"mass_kg":              vc.MassKg,
		"wheelbase":            vc.Wheelbase,
		"steer_ratio":          vc.SteerRatio,
		"tire_stiffness_front": vc.TireStiffnessFront,
		"tire_stiffness_rear":  vc.TireStiffnessRear,
	} {
		if v <= 0 || !isFinite(v) {
			return errors.Errorf("%s: %s must be positive", path, name)
		}
	}
	if vc.CenterToFront <= 0 || vc.CenterToFront >= vc.Wheelbase {
		return errors.Errorf("%s: center_to_front must be between 0 and wheelbase", path)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
