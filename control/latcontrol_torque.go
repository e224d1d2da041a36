package control

import (
	"math"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/logging"
	"github.com/hybridlat/latcontrol/tuning"
	"github.com/hybridlat/latcontrol/utils"
)

const (
	gravity = 9.81
	// lateral acceleration error (m/s²) over which friction compensation ramps in
	frictionThreshold = 0.2
)

var (
	lowSpeedFactorBP = []float64{0., 15.}
	lowSpeedFactorV  = []float64{500., 0.}
	// below 2 m/s curvature comes from the steering angle, above 5 m/s from the yaw rate
	yawBlendBP = []float64{2., 5.}
)

// TorqueState is the torque controller's part of the diagnostic record.
type TorqueState struct {
	Error               float64 `json:"error"`
	P                   float64 `json:"p"`
	I                   float64 `json:"i"`
	D                   float64 `json:"d"`
	F                   float64 `json:"f"`
	ActualLateralAccel  float64 `json:"actual_lateral_accel"`
	DesiredLateralAccel float64 `json:"desired_lateral_accel"`
}

type torqueTuning struct {
	UseSteeringAngle float64 `json:"useSteeringAngle"`
	MaxLatAccel      float64 `json:"maxLatAccel"`
	Friction         float64 `json:"friction"`
	KiFactor         float64 `json:"ki_factor"`
	Kd               float64 `json:"kd"`
	Deadzone         float64 `json:"deadzone"`
}

// LatControlTorque tracks lateral acceleration with a PID whose gains scale with the
// car's maximum lateral acceleration.
type LatControlTorque struct {
	latControl
	vm  VehicleModel
	pid *PIDController

	useSteeringAngle bool
	kp, ki, kd, kf   float64
	friction         float64
	deadzone         float64 // deg
}

var _ tuning.Target = (*LatControlTorque)(nil)

// NewTorque returns a torque controller using the configured gains until the tuning file
// overrides them.
func NewTorque(deps Deps, logger logging.Logger) (*LatControlTorque, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config
	tc := cfg.Torque
	c := &LatControlTorque{
		latControl:       newLatControl(&cfg, deps.Registry, logger),
		vm:               deps.VehicleModel,
		useSteeringAngle: tc.UseSteeringAngle,
		kp:               tc.Kp,
		ki:               tc.Ki,
		kd:               tc.Kd,
		kf:               tc.Kf,
		friction:         tc.Friction,
		deadzone:         tc.Deadzone,
	}
	c.pid = NewPIDController(ConstantGain(c.kp), ConstantGain(c.ki), ConstantGain(c.kd), c.kf, cfg.FrequencyHz)
	c.pid.SetLimits(-cfg.SteerMax, cfg.SteerMax)
	if err := c.attach(c, cfg.DisableLateralLiveTuning); err != nil {
		return nil, err
	}
	return c, nil
}

// Mode returns config.ModeTorque.
func (c *LatControlTorque) Mode() string {
	return config.ModeTorque
}

// Reset clears the PID.
func (c *LatControlTorque) Reset() {
	c.resetSaturation()
	c.pid.Reset()
}

// Update runs one control tick.
func (c *LatControlTorque) Update(in TickInput) Output {
	c.checkTuning()

	cs := in.CarState
	state := LateralState{SteeringAngleDeg: cs.SteeringAngleDeg, Torque: &TorqueState{}}
	desiredAngle := utils.RadToDeg(c.vm.SteerFromCurvature(in.DesiredCurvature, cs.VEgo, in.Params.Roll)) +
		in.Params.AngleOffsetDeg
	state.SteeringAngleDesiredDeg = desiredAngle

	var output float64
	if cs.VEgo < c.minSteerSpeed || !in.Active {
		c.pid.Reset()
	} else {
		state.Active = true
		v2 := cs.VEgo * cs.VEgo

		var actualCurvature, curvatureDeadzone float64
		actualCurvatureVM := c.vm.CurvatureFromSteer(
			utils.DegToRad(cs.SteeringAngleDeg-in.Params.AngleOffsetDeg), cs.VEgo, in.Params.Roll)
		if c.useSteeringAngle {
			actualCurvature = actualCurvatureVM
			curvatureDeadzone = math.Abs(c.vm.CurvatureFromSteer(utils.DegToRad(c.deadzone), cs.VEgo, 0.))
		} else {
			actualCurvatureYaw := cs.YawRate / math.Max(cs.VEgo, 0.1)
			actualCurvature = utils.Interp(cs.VEgo, yawBlendBP, []float64{actualCurvatureVM, actualCurvatureYaw})
		}

		desiredLatAccel := in.DesiredCurvature * v2
		desiredLatJerk := in.DesiredCurvatureRate * v2
		actualLatAccel := actualCurvature * v2
		latAccelDeadzone := curvatureDeadzone * v2

		lowSpeedFactor := utils.Interp(cs.VEgo, lowSpeedFactorBP, lowSpeedFactorV)
		setpoint := desiredLatAccel + lowSpeedFactor*in.DesiredCurvature
		measurement := actualLatAccel + lowSpeedFactor*actualCurvature
		errorLatAccel := utils.ApplyDeadzone(setpoint-measurement, latAccelDeadzone)

		ff := desiredLatAccel - in.Params.Roll*gravity
		friction := utils.Interp(errorLatAccel,
			[]float64{-frictionThreshold, frictionThreshold}, []float64{-c.friction, c.friction})
		ff += friction / c.kf

		freeze := cs.SteeringRateLimited || cs.SteeringPressed || cs.VEgo < integratorMinSpeed
		output = c.pid.Update(PIDInput{
			Error:            errorLatAccel,
			ErrorRate:        desiredLatJerk,
			Speed:            cs.VEgo,
			Feedforward:      ff,
			Override:         cs.SteeringPressed,
			FreezeIntegrator: freeze,
		})

		p, i, d, f := c.pid.Terms()
		*state.Torque = TorqueState{
			Error:               errorLatAccel,
			P:                   p,
			I:                   i,
			D:                   d,
			F:                   f,
			ActualLateralAccel:  actualLatAccel,
			DesiredLateralAccel: desiredLatAccel,
		}
	}

	if !utils.IsFinite(output) {
		c.logger.Warnw("non-finite steering output, resetting", "v_ego", cs.VEgo)
		c.pid.Reset()
		output = 0
		state.Active = false
	}

	state.Output = output
	state.Saturated = c.saturated(output)
	state.SaturationSustained = c.checkSaturation(state.Saturated, cs)
	return Output{Steer: output, DesiredAngleDeg: desiredAngle, State: state}
}

// TuningGroup returns tuning.GroupTorque.
func (c *LatControlTorque) TuningGroup() tuning.Group {
	return tuning.GroupTorque
}

// CurrentTuning returns the live gains in the torque group layout.
func (c *LatControlTorque) CurrentTuning() config.AttributeMap {
	useSteeringAngle := 0.
	if c.useSteeringAngle {
		useSteeringAngle = 1.
	}
	values := config.AttributeMap{
		"useSteeringAngle": useSteeringAngle,
		"friction":         utils.Round(c.friction, 3),
		"kd":               utils.Round(c.kd, 2),
		"deadzone":         utils.Round(c.deadzone, 3),
	}
	if c.kp > 0 {
		values["maxLatAccel"] = utils.Round(1./c.kp, 2)
		values["ki_factor"] = utils.Round(c.ki/c.kp, 2)
	}
	return values
}

// ApplyTuning derives the PID gains from maxLatAccel and clears the PID.
func (c *LatControlTorque) ApplyTuning(values config.AttributeMap) error {
	var t torqueTuning
	if err := values.Decode(&t); err != nil {
		return err
	}
	c.useSteeringAngle = t.UseSteeringAngle > 0.5
	c.kp = 1. / t.MaxLatAccel
	c.kf = 1. / t.MaxLatAccel
	c.ki = t.KiFactor / t.MaxLatAccel
	c.kd = t.Kd
	c.friction = t.Friction
	c.deadzone = t.Deadzone
	c.pid.SetGains(ConstantGain(c.kp), ConstantGain(c.ki), ConstantGain(c.kd), c.kf)
	c.Reset()
	return nil
}
