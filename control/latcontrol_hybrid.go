package control

import (
	"math"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/logging"
	"github.com/hybridlat/latcontrol/tuning"
	"github.com/hybridlat/latcontrol/utils"
)

// errorRateFrame is how many ticks back the PID error rate looks.
const errorRateFrame = 5

// The LQR output is used alone on small angles and handed to the PID on large ones.
var (
	lqrWeightBP = []float64{10., 25.}
	lqrWeightV  = []float64{1., 0.}
)

// LQRWeight returns the share of the LQR output in the blended command at steering angle (deg).
func LQRWeight(angleDeg float64) float64 {
	return utils.Interp(math.Abs(angleDeg), lqrWeightBP, lqrWeightV)
}

// HybridState is the hybrid controller's part of the diagnostic record.
type HybridState struct {
	LQROutput float64 `json:"lqr_output"`
	PIDOutput float64 `json:"pid_output"`
	LQRWeight float64 `json:"lqr_weight"`
	I         float64 `json:"i"`
}

// lqrTuning is the layout of the LQR tuning group.
type lqrTuning struct {
	Scale           float64 `json:"scale"`
	Ki              float64 `json:"ki"`
	DcGain          float64 `json:"dcGain"`
	SteerLimitTimer float64 `json:"steerLimitTimer"`
}

// errorHistory keeps the last errorRateFrame PID errors, oldest first.
type errorHistory struct {
	buf  [errorRateFrame]float64
	head int
	n    int
}

func (h *errorHistory) push(v float64) {
	h.buf[(h.head+h.n)%errorRateFrame] = v
	if h.n < errorRateFrame {
		h.n++
	} else {
		h.head = (h.head + 1) % errorRateFrame
	}
}

func (h *errorHistory) full() bool {
	return h.n == errorRateFrame
}

func (h *errorHistory) oldest() float64 {
	return h.buf[h.head]
}

func (h *errorHistory) len() int {
	return h.n
}

func (h *errorHistory) reset() {
	h.head, h.n = 0, 0
}

// LatControlHybrid blends an LQR with a Kalman steering estimator and a PID, weighting the LQR
// on small steering angles.
type LatControlHybrid struct {
	latControl
	vm          VehicleModel
	feedforward SteerFeedforward

	scale  float64
	ki     float64
	dcGain float64

	estimator   *SteerEstimator
	iLQR        float64
	iRate       float64
	iUnwindRate float64

	pid    *PIDController
	errors errorHistory
}

var _ tuning.Target = (*LatControlHybrid)(nil)

// NewHybrid returns a hybrid controller using the configured LQR gains until the tuning file
// overrides them.
func NewHybrid(deps Deps, logger logging.Logger) (*LatControlHybrid, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config
	ff := deps.Feedforward
	if ff == nil {
		ff = func(angle, speed float64) float64 { return angle * speed * speed }
	}
	c := &LatControlHybrid{
		latControl:  newLatControl(&cfg, deps.Registry, logger),
		vm:          deps.VehicleModel,
		feedforward: ff,
		scale:       cfg.LQR.Scale,
		ki:          cfg.LQR.Ki,
		dcGain:      cfg.LQR.DcGain,
		estimator:   NewSteerEstimator(DefaultDynamicsModel()),
		iRate:       1.0 * cfg.Period(),
		iUnwindRate: 0.3 * cfg.Period(),
		pid: NewPIDController(ConstantGain(0.2), ConstantGain(0.02), ConstantGain(0.1),
			0.00005, cfg.FrequencyHz),
	}
	c.pid.SetLimits(-cfg.SteerMax, cfg.SteerMax)
	c.Reset()
	if err := c.attach(c, cfg.DisableLateralLiveTuning); err != nil {
		return nil, err
	}
	return c, nil
}

// Mode returns config.ModeHybrid.
func (c *LatControlHybrid) Mode() string {
	return config.ModeHybrid
}

// Reset clears the integrator, the PID and the error history. The estimator keeps running.
func (c *LatControlHybrid) Reset() {
	c.resetSaturation()
	c.iLQR = 0
	c.pid.Reset()
	c.errors.reset()
}

// Estimator exposes the steering state estimator.
func (c *LatControlHybrid) Estimator() *SteerEstimator {
	return c.estimator
}

// Update runs one control tick.
func (c *LatControlHybrid) Update(in TickInput) Output {
	c.checkTuning()

	cs := in.CarState
	state := LateralState{SteeringAngleDeg: cs.SteeringAngleDeg, Hybrid: &HybridState{}}

	angleSteersDesNoOffset := utils.RadToDeg(c.vm.SteerFromCurvature(in.DesiredCurvature, cs.VEgo, in.Params.Roll))
	torqueScale := TorqueScale(cs.VEgo)

	steeringAngleNoOffset := cs.SteeringAngleDeg - in.Params.AngleOffsetAverageDeg
	// only the part of the offset that comes from vehicle model errors
	instantOffset := in.Params.AngleOffsetDeg - in.Params.AngleOffsetAverageDeg
	desiredAngle := angleSteersDesNoOffset + instantOffset
	state.SteeringAngleDesiredDeg = desiredAngle

	angleSteersK := c.estimator.Update(steeringAngleNoOffset, cs.SteeringTorque, torqueScale)

	var output float64
	if cs.VEgo < c.minSteerSpeed || !in.Active {
		c.Reset()
	} else {
		state.Active = true

		lqrOutput := torqueScale * (desiredAngle/c.dcGain - c.estimator.Feedback()) / c.scale
		if cs.SteeringPressed {
			c.iLQR -= c.iUnwindRate * utils.Sign(c.iLQR)
		} else {
			err := desiredAngle - angleSteersK
			i := c.iLQR + c.ki*c.iRate*err
			control := lqrOutput + i
			if (err >= 0 && (control <= c.steerMax || i < 0.)) ||
				(err <= 0 && (control >= -c.steerMax || i > 0.)) {
				c.iLQR = i
			}
		}
		outputLQR := utils.Clip(lqrOutput+c.iLQR, -c.steerMax, c.steerMax)

		angleSteersDes := angleSteersDesNoOffset + in.Params.AngleOffsetDeg
		pidErr := angleSteersDes - cs.SteeringAngleDeg
		c.pid.SetLimits(-c.steerMax, c.steerMax)
		var errRate float64
		if c.errors.full() {
			errRate = (pidErr - c.errors.oldest()) / errorRateFrame
		}
		c.errors.push(pidErr)
		outputPID := c.pid.Update(PIDInput{
			Error:       pidErr,
			ErrorRate:   errRate,
			Speed:       cs.VEgo,
			Feedforward: c.feedforward(angleSteersDesNoOffset, cs.VEgo),
			Override:    cs.SteeringPressed,
		})

		weight := LQRWeight((angleSteersDes + cs.SteeringAngleDeg) / 2.)
		output = outputLQR*weight + outputPID*(1.-weight)

		state.Hybrid.LQROutput = outputLQR
		state.Hybrid.PIDOutput = outputPID
		state.Hybrid.LQRWeight = weight
		state.Hybrid.I = c.iLQR
	}

	if !utils.IsFinite(output) || !c.estimator.Healthy() {
		c.logger.Warnw("non-finite steering state, resetting", "output", output, "v_ego", cs.VEgo)
		c.estimator.Reset()
		c.Reset()
		output = 0
		state.Active = false
	}

	state.Output = output
	state.Saturated = c.saturated(output)
	state.SaturationSustained = c.checkSaturation(state.Saturated, cs)
	return Output{Steer: output, DesiredAngleDeg: desiredAngle, State: state}
}

// TuningGroup returns tuning.GroupLQR.
func (c *LatControlHybrid) TuningGroup() tuning.Group {
	return tuning.GroupLQR
}

// CurrentTuning returns the live gains in the LQR group layout.
func (c *LatControlHybrid) CurrentTuning() config.AttributeMap {
	return config.AttributeMap{
		"scale":           utils.Round(c.scale, 2),
		"ki":              utils.Round(c.ki, 3),
		"dcGain":          utils.Round(c.dcGain, 6),
		"steerLimitTimer": utils.Round(c.satLimit, 2),
	}
}

// ApplyTuning installs new LQR gains, restarts the estimator and clears transient state.
func (c *LatControlHybrid) ApplyTuning(values config.AttributeMap) error {
	var t lqrTuning
	if err := values.Decode(&t); err != nil {
		return err
	}
	c.scale = t.Scale
	c.ki = t.Ki
	c.dcGain = t.DcGain
	c.satLimit = t.SteerLimitTimer
	c.estimator.SetModel(DefaultDynamicsModel())
	c.Reset()
	return nil
}
