package cli

import (
	"context"
	"math"
	"sync"

	"github.com/montanaflynn/stats"

	"github.com/hybridlat/latcontrol/control"
	"github.com/hybridlat/latcontrol/logging"
	"github.com/hybridlat/latcontrol/tuning"
	"github.com/hybridlat/latcontrol/vehicle"
)

const (
	// steering wheel degrees a full actuator command settles at
	plantGainDeg = 30.
	// steering rack time constant in seconds
	plantTimeConstant = 0.15
	// actuator torque reported for a full command
	plantTorque = 384.
	// seconds of history the run statistics cover
	statsWindowSeconds = 10
)

// scenario is a constant speed drive along a constant curvature.
type scenario struct {
	speed     float64
	curvature float64
}

// simulator closes the loop around a lateral controller: it is the controller's state source
// and its sink, moving the steering wheel through a first-order lag toward the last command.
type simulator struct {
	scenario scenario
	dt       float64
	vm       *vehicle.Model
	registry *tuning.Registry
	// steer ratio the vehicle model uses while useLiveSteerRatio is set
	liveSteerRatio float64
	reportEvery    int
	window         int
	logger         logging.Logger

	mu             sync.Mutex
	plant          *control.FirstOrderFilter
	angleDeg       float64
	rateDeg        float64
	last           control.Output
	ticks          int
	saturatedTicks int
	// tracking errors (deg) and commands over the last window ticks
	trackingErrors stats.Float64Data
	outputs        stats.Float64Data
}

func newSimulator(
	sc scenario,
	frequencyHz float64,
	vm *vehicle.Model,
	registry *tuning.Registry,
	logger logging.Logger,
) *simulator {
	dt := 1. / frequencyHz
	return &simulator{
		scenario:       sc,
		dt:             dt,
		vm:             vm,
		registry:       registry,
		liveSteerRatio: vm.SteerRatio(),
		reportEvery:    int(frequencyHz),
		window:         int(frequencyHz * statsWindowSeconds),
		logger:         logger,
		plant:          control.NewFirstOrderFilter(0., plantTimeConstant, dt),
	}
}

// Next returns the car state after the previous command.
func (s *simulator) Next(ctx context.Context) (control.TickInput, error) {
	if err := ctx.Err(); err != nil {
		return control.TickInput{}, err
	}
	s.updateSteerRatio()

	s.mu.Lock()
	defer s.mu.Unlock()
	return control.TickInput{
		Active: true,
		CarState: control.CarState{
			VEgo:             s.scenario.speed,
			SteeringAngleDeg: s.angleDeg,
			SteeringRateDeg:  s.rateDeg,
			SteeringTorque:   s.last.Steer * plantTorque,
		},
		DesiredCurvature: s.scenario.curvature,
	}, nil
}

// Publish applies the command to the steering plant.
func (s *simulator) Publish(ctx context.Context, out control.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	angle, _ := s.plant.Next(out.Steer * plantGainDeg)
	s.rateDeg = (angle - s.angleDeg) / s.dt
	s.angleDeg = angle
	s.last = out
	s.ticks++
	if out.State.Saturated {
		s.saturatedTicks++
	}
	s.trackingErrors = appendWindow(s.trackingErrors, out.DesiredAngleDeg-angle, s.window)
	s.outputs = appendWindow(s.outputs, out.Steer, s.window)
	if s.reportEvery > 0 && s.ticks%s.reportEvery == 0 {
		s.logger.Infow("lateral",
			"angle_deg", s.angleDeg,
			"desired_deg", out.DesiredAngleDeg,
			"output", out.Steer,
			"saturated", out.State.Saturated,
			"steer_ratio", s.vm.SteerRatio())
	}
	return nil
}

// updateSteerRatio follows the common group: a fixed tuned ratio unless the live one is enabled.
func (s *simulator) updateSteerRatio() {
	if s.registry == nil {
		return
	}
	if s.registry.Enabled(tuning.GroupCommon, "useLiveSteerRatio") {
		s.vm.SetSteerRatio(s.liveSteerRatio)
		return
	}
	sr, err := s.registry.Get(tuning.GroupCommon, "steerRatio")
	if err != nil {
		s.logger.Debugw("steer ratio unavailable", "error", err)
		return
	}
	s.vm.SetSteerRatio(sr)
}

func appendWindow(data stats.Float64Data, v float64, window int) stats.Float64Data {
	data = append(data, v)
	if window > 0 && len(data) > window {
		data = append(data[:0], data[len(data)-window:]...)
	}
	return data
}

type simSummary struct {
	ticks          int
	saturatedTicks int
	angleDeg       float64
	last           control.Output
	// over the statistics window
	meanAbsErrorDeg float64
	maxAbsErrorDeg  float64
	outputStdDev    float64
}

func (s *simulator) summary() simSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := simSummary{
		ticks:          s.ticks,
		saturatedTicks: s.saturatedTicks,
		angleDeg:       s.angleDeg,
		last:           s.last,
	}
	if s.trackingErrors.Len() == 0 {
		return sum
	}
	absErrors := make(stats.Float64Data, 0, s.trackingErrors.Len())
	for _, e := range s.trackingErrors {
		absErrors = append(absErrors, math.Abs(e))
	}
	// errors only come back for empty input
	sum.meanAbsErrorDeg, _ = absErrors.Mean()
	sum.maxAbsErrorDeg, _ = absErrors.Max()
	sum.outputStdDev, _ = s.outputs.StandardDeviation()
	return sum
}
