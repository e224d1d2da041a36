package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/control"
	"github.com/hybridlat/latcontrol/tuning"
	"github.com/hybridlat/latcontrol/vehicle"
)

// RunAction drives the simulated car until the duration elapses or the command is interrupted.
func RunAction(c *cli.Context) (err error) {
	logger := loggerFrom(c)
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	if mode := c.String(runFlagMode); mode != "" {
		cfg.LateralMode = mode
	}
	if dir := c.Path(tuningFlagDir); dir != "" {
		cfg.TuningDir = dir
	}
	if err := cfg.Validate("config"); err != nil {
		return err
	}

	registry := tuning.NewRegistry(cfg.TuningDir, logger.Sublogger("tuning"))
	defer func() {
		err = multierr.Combine(err, registry.Close())
	}()
	registry.SetSeed(tuning.GroupCommon, config.AttributeMap{
		"steerRatio":         cfg.Vehicle.SteerRatio,
		"steerActuatorDelay": cfg.Vehicle.SteerActuatorDelay,
		"steerRateCost":      cfg.Vehicle.SteerRateCost,
	})

	vm := vehicle.NewModel(cfg.Vehicle)
	ctrl, err := control.NewLateral(control.Deps{
		Config:       *cfg,
		VehicleModel: vm,
		Feedforward:  vehicle.DefaultSteerFeedforward,
		Registry:     registry,
	}, logger.Sublogger("control."+cfg.LateralMode))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, ctrl.Close())
	}()

	sim := newSimulator(scenario{
		speed:     c.Float64(runFlagSpeed),
		curvature: c.Float64(runFlagCurvature),
	}, cfg.FrequencyHz, vm, registry, logger.Sublogger("sim"))
	loop, err := control.NewLoop(logger.Sublogger("loop"), cfg.FrequencyHz, ctrl, sim, sim)
	if err != nil {
		return err
	}
	if err := loop.Start(); err != nil {
		return err
	}

	var done <-chan time.Time
	if d := c.Duration(runFlagDuration); d > 0 {
		done = time.After(d)
	}
	select {
	case <-done:
	case <-c.Context.Done():
	}
	loop.Stop()

	printSummary(c, cfg.LateralMode, sim.summary())
	return nil
}

func printSummary(c *cli.Context, mode string, s simSummary) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{
		"Mode", "Ticks", "Angle", "Desired", "Output", "Saturated ticks",
		"Mean abs error", "Max abs error", "Output std dev",
	})
	t.AppendRow(table.Row{
		mode,
		s.ticks,
		fmt.Sprintf("%.2f", s.angleDeg),
		fmt.Sprintf("%.2f", s.last.DesiredAngleDeg),
		fmt.Sprintf("%.3f", s.last.Steer),
		s.saturatedTicks,
		fmt.Sprintf("%.3f", s.meanAbsErrorDeg),
		fmt.Sprintf("%.3f", s.maxAbsErrorDeg),
		fmt.Sprintf("%.4f", s.outputStdDev),
	})
	printf(c.App.Writer, "%s", t.Render())
	if s.saturatedTicks > 0 && s.saturatedTicks == s.ticks {
		warningf(c.App.ErrWriter, "steering was saturated for the whole run")
	}
}
