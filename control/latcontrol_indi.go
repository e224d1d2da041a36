package control

import (
	"gonum.org/v1/gonum/mat"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/logging"
	"github.com/hybridlat/latcontrol/tuning"
	"github.com/hybridlat/latcontrol/utils"
)

// INDIState is the INDI controller's part of the diagnostic record.
type INDIState struct {
	SteeringAngleDeg       float64 `json:"steering_angle_deg"`
	SteeringRateDeg        float64 `json:"steering_rate_deg"`
	SteeringAccelDeg       float64 `json:"steering_accel_deg"`
	SteeringRateDesiredDeg float64 `json:"steering_rate_desired_deg"`
	RateSetPoint           float64 `json:"rate_set_point"`
	AccelSetPoint          float64 `json:"accel_set_point"`
	AccelError             float64 `json:"accel_error"`
	DelayedOutput          float64 `json:"delayed_output"`
	Delta                  float64 `json:"delta"`
}

type indiTuning struct {
	ActuatorEffectiveness float64 `json:"actuatorEffectiveness"`
	TimeConstant          float64 `json:"timeConstant"`
	InnerLoopGain         float64 `json:"innerLoopGain"`
	OuterLoopGain         float64 `json:"outerLoopGain"`
}

// LatControlINDI is an incremental nonlinear dynamic inversion steering controller: it commands
// changes of the actuator from the error in steering acceleration.
type LatControlINDI struct {
	latControl
	vm VehicleModel

	// observer x' = A_K·x + K·y over [angle, rate, accel] in radians
	k  *mat.Dense
	aK *mat.Dense
	x  *mat.VecDense
	y  *mat.VecDense

	scratch  *mat.VecDense
	scratch2 *mat.VecDense

	rc            float64
	g             float64
	outerLoopGain float64
	innerLoopGain float64
	steerFilter   *FirstOrderFilter
	outputSteer   float64
}

var _ tuning.Target = (*LatControlINDI)(nil)

// NewINDI returns an INDI controller using the configured gains until the tuning file
// overrides them.
func NewINDI(deps Deps, logger logging.Logger) (*LatControlINDI, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config
	dt := cfg.Period()

	a := mat.NewDense(3, 3, []float64{
		1., dt, 0.,
		0., 1., dt,
		0., 0., 1.,
	})
	cm := mat.NewDense(2, 3, []float64{
		1., 0., 0.,
		0., 1., 0.,
	})
	k := mat.NewDense(3, 2, []float64{
		7.30262179e-01, 2.07003658e-04,
		7.29394177e+00, 1.39159419e-02,
		1.71022442e+01, 3.38495381e-02,
	})
	var kc mat.Dense
	kc.Mul(k, cm)
	aK := mat.NewDense(3, 3, nil)
	aK.Sub(a, &kc)

	c := &LatControlINDI{
		latControl:    newLatControl(&cfg, deps.Registry, logger),
		vm:            deps.VehicleModel,
		k:             k,
		aK:            aK,
		x:             mat.NewVecDense(3, nil),
		y:             mat.NewVecDense(2, nil),
		scratch:       mat.NewVecDense(3, nil),
		scratch2:      mat.NewVecDense(3, nil),
		rc:            cfg.INDI.TimeConstant,
		g:             cfg.INDI.ActuatorEffectiveness,
		outerLoopGain: cfg.INDI.OuterLoopGain,
		innerLoopGain: cfg.INDI.InnerLoopGain,
		steerFilter:   NewFirstOrderFilter(0., cfg.INDI.TimeConstant, dt),
	}
	c.Reset()
	if err := c.attach(c, cfg.DisableLateralLiveTuning); err != nil {
		return nil, err
	}
	return c, nil
}

// Mode returns config.ModeINDI.
func (c *LatControlINDI) Mode() string {
	return config.ModeINDI
}

// Reset clears the actuator filter and the last output.
func (c *LatControlINDI) Reset() {
	c.resetSaturation()
	//nolint:errcheck
	c.steerFilter.Reset()
	c.outputSteer = 0
}

// Update runs one control tick.
func (c *LatControlINDI) Update(in TickInput) Output {
	c.checkTuning()

	cs := in.CarState
	state := LateralState{SteeringAngleDeg: cs.SteeringAngleDeg, INDI: &INDIState{}}

	c.y.SetVec(0, utils.DegToRad(cs.SteeringAngleDeg))
	c.y.SetVec(1, utils.DegToRad(cs.SteeringRateDeg))
	c.scratch.MulVec(c.aK, c.x)
	c.scratch2.MulVec(c.k, c.y)
	c.x.AddVec(c.scratch, c.scratch2)

	state.INDI.SteeringAngleDeg = utils.RadToDeg(c.x.AtVec(0))
	state.INDI.SteeringRateDeg = utils.RadToDeg(c.x.AtVec(1))
	state.INDI.SteeringAccelDeg = utils.RadToDeg(c.x.AtVec(2))

	steersDes := c.vm.SteerFromCurvature(in.DesiredCurvature, cs.VEgo, in.Params.Roll) +
		utils.DegToRad(in.Params.AngleOffsetDeg)
	desiredAngle := utils.RadToDeg(steersDes)
	state.SteeringAngleDesiredDeg = desiredAngle

	if cs.VEgo < c.minSteerSpeed || !in.Active {
		c.outputSteer = 0
		//nolint:errcheck
		c.steerFilter.Reset()
	} else {
		state.Active = true
		rateDes := c.vm.SteerFromCurvature(in.DesiredCurvatureRate, cs.VEgo, 0.)
		state.INDI.SteeringRateDesiredDeg = utils.RadToDeg(rateDes)

		c.steerFilter.UpdateAlpha(c.rc)
		delayed, _ := c.steerFilter.Next(c.outputSteer)

		rateSP := c.outerLoopGain*(steersDes-c.x.AtVec(0)) + rateDes
		accelSP := c.innerLoopGain * (rateSP - c.x.AtVec(1))
		accelError := accelSP - c.x.AtVec(2)

		delta := accelError / c.g
		// the driver can only make us back off
		if cs.SteeringPressed && delta*c.outputSteer > 0 {
			delta = 0
		}
		c.outputSteer = utils.Clip(delayed+delta, -c.steerMax, c.steerMax)

		state.INDI.RateSetPoint = rateSP
		state.INDI.AccelSetPoint = accelSP
		state.INDI.AccelError = accelError
		state.INDI.DelayedOutput = delayed
		state.INDI.Delta = delta
	}

	if !utils.IsFinite(c.outputSteer) || !utils.IsFinite(c.x.AtVec(0)) {
		c.logger.Warnw("non-finite steering state, resetting", "v_ego", cs.VEgo)
		c.x.Zero()
		c.Reset()
		state.Active = false
	}

	output := c.outputSteer
	state.Output = output
	state.Saturated = c.saturated(output)
	state.SaturationSustained = c.checkSaturation(state.Saturated, cs)
	return Output{Steer: output, DesiredAngleDeg: desiredAngle, State: state}
}

// TuningGroup returns tuning.GroupINDI.
func (c *LatControlINDI) TuningGroup() tuning.Group {
	return tuning.GroupINDI
}

// CurrentTuning returns the live gains in the INDI group layout.
func (c *LatControlINDI) CurrentTuning() config.AttributeMap {
	return config.AttributeMap{
		"actuatorEffectiveness": utils.Round(c.g, 2),
		"timeConstant":          utils.Round(c.rc, 2),
		"innerLoopGain":         utils.Round(c.innerLoopGain, 2),
		"outerLoopGain":         utils.Round(c.outerLoopGain, 2),
	}
}

// ApplyTuning installs new gains and clears the actuator filter.
func (c *LatControlINDI) ApplyTuning(values config.AttributeMap) error {
	var t indiTuning
	if err := values.Decode(&t); err != nil {
		return err
	}
	c.g = t.ActuatorEffectiveness
	c.rc = t.TimeConstant
	c.innerLoopGain = t.InnerLoopGain
	c.outerLoopGain = t.OuterLoopGain
	c.steerFilter.UpdateAlpha(c.rc)
	c.Reset()
	return nil
}
