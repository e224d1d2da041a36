package control

import (
	"math"

	"github.com/pkg/errors"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/logging"
	"github.com/hybridlat/latcontrol/tuning"
	"github.com/hybridlat/latcontrol/utils"
)

const (
	// saturation only counts toward a fault above this speed (m/s)
	saturationMinSpeed = 10.
	// the torque integrator is frozen below this speed (m/s)
	integratorMinSpeed = 5.
)

// VehicleModel converts between path curvature and road wheel steering angle.
type VehicleModel interface {
	// SteerFromCurvature returns the steering wheel angle (rad) that holds curvature (1/m).
	SteerFromCurvature(curvature, speed, roll float64) float64
	// CurvatureFromSteer returns the curvature (1/m) a steering wheel angle (rad) produces.
	CurvatureFromSteer(steer, speed, roll float64) float64
}

// SteerFeedforward maps a desired steering angle (deg) and speed (m/s) to an open loop command
// before the feed-forward gain is applied.
type SteerFeedforward func(desiredAngleDeg, speed float64) float64

// CarState is the measured vehicle state for one tick.
type CarState struct {
	VEgo                float64 // m/s
	SteeringAngleDeg    float64
	SteeringRateDeg     float64
	SteeringTorque      float64 // measured actuator torque
	SteeringPressed     bool    // driver override
	SteeringRateLimited bool
	YawRate             float64 // rad/s
}

// LiveParams are the online estimates the controllers correct for.
type LiveParams struct {
	AngleOffsetAverageDeg float64
	AngleOffsetDeg        float64
	Roll                  float64 // rad
}

// TickInput is everything a lateral controller consumes in one control period.
type TickInput struct {
	Active               bool
	CarState             CarState
	Params               LiveParams
	DesiredCurvature     float64
	DesiredCurvatureRate float64
}

// LateralState is the diagnostic record of one tick.
type LateralState struct {
	Active                  bool    `json:"active"`
	SteeringAngleDeg        float64 `json:"steering_angle_deg"`
	SteeringAngleDesiredDeg float64 `json:"steering_angle_desired_deg"`
	Output                  float64 `json:"output"`
	Saturated               bool    `json:"saturated"`
	SaturationSustained     bool    `json:"saturation_sustained"`

	Hybrid *HybridState `json:"hybrid,omitempty"`
	Torque *TorqueState `json:"torque,omitempty"`
	INDI   *INDIState   `json:"indi,omitempty"`
}

// Output is the result of one tick.
type Output struct {
	Steer           float64
	DesiredAngleDeg float64
	State           LateralState
}

// LateralController turns a desired curvature into a steering command once per control period.
// Implementations are not safe for concurrent use; the control loop is their only caller.
type LateralController interface {
	Update(in TickInput) Output
	Reset()
	Mode() string
	Close() error
}

// Deps are the collaborators every lateral controller is built from.
type Deps struct {
	Config       config.Config
	VehicleModel VehicleModel
	Feedforward  SteerFeedforward
	// Registry supplies the live tuning store. A nil registry runs on the configured gains only.
	Registry *tuning.Registry
}

func (d *Deps) validate() error {
	if d.VehicleModel == nil {
		return errors.New("lateral controller requires a vehicle model")
	}
	return d.Config.Validate("config")
}

// NewLateral builds the controller selected by the configured lateral mode.
func NewLateral(deps Deps, logger logging.Logger) (LateralController, error) {
	switch deps.Config.LateralMode {
	case config.ModeHybrid:
		return NewHybrid(deps, logger)
	case config.ModeTorque:
		return NewTorque(deps, logger)
	case config.ModeINDI:
		return NewINDI(deps, logger)
	default:
		return nil, errors.Errorf("unsupported lateral mode %q", deps.Config.LateralMode)
	}
}

// latControl holds what every lateral controller shares: limits, the saturation timer and the
// tuning store.
type latControl struct {
	steerMax      float64
	minSteerSpeed float64
	dt            float64

	satCount     float64
	satCountRate float64
	satLimit     float64

	registry *tuning.Registry
	tuner    *tuning.Store
	logger   logging.Logger
}

func newLatControl(cfg *config.Config, registry *tuning.Registry, logger logging.Logger) latControl {
	return latControl{
		steerMax:      cfg.SteerMax,
		minSteerSpeed: cfg.MinSteerSpeed,
		dt:            cfg.Period(),
		satCountRate:  cfg.Period(),
		satLimit:      cfg.SteerLimitTimer,
		registry:      registry,
		logger:        logger,
	}
}

// attach connects target to its tuning file. It runs last in a constructor since the store
// applies the file immediately.
func (lc *latControl) attach(target tuning.Target, disableApply bool) error {
	if lc.registry == nil {
		return nil
	}
	s, err := lc.registry.Attach(target, disableApply)
	if err != nil {
		return err
	}
	lc.tuner = s
	return nil
}

// checkTuning applies a pending tuning reload.
func (lc *latControl) checkTuning() {
	if lc.tuner != nil {
		lc.tuner.Check()
	}
}

func (lc *latControl) resetSaturation() {
	lc.satCount = 0
}

// checkSaturation advances the saturation timer and reports whether saturation has lasted
// the full limit.
func (lc *latControl) checkSaturation(saturated bool, cs CarState) bool {
	if saturated && cs.VEgo > saturationMinSpeed && !cs.SteeringRateLimited && !cs.SteeringPressed {
		lc.satCount += lc.satCountRate
	} else {
		lc.satCount -= lc.satCountRate
	}
	lc.satCount = utils.Clip(lc.satCount, 0., lc.satLimit)
	return lc.satCount > lc.satLimit-1e-3
}

func (lc *latControl) saturated(output float64) bool {
	return lc.steerMax-math.Abs(output) < 1e-3
}

// Close releases the tuning store.
func (lc *latControl) Close() error {
	if lc.tuner == nil {
		return nil
	}
	s := lc.tuner
	lc.tuner = nil
	return lc.registry.Release(s)
}
