// Package cli contains the latctl command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	generalFlagDebug   = "debug"
	generalFlagLogFile = "log-file"

	runFlagConfig    = "config"
	runFlagDuration  = "duration"
	runFlagCurvature = "curvature"
	runFlagSpeed     = "speed"
	runFlagMode      = "mode"

	tuningFlagDir = "dir"
)

var app = &cli.App{
	Name:            "latctl",
	Usage:           "run and tune the lateral steering controller",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  generalFlagLogFile,
			Usage: "also write logs to `FILE`, rotated by size",
		},
	},
	Before: setupLogger,
	After:  closeLogger,
	Commands: []*cli.Command{
		{
			Name:  "run",
			Usage: "drive a simulated car with the lateral controller and live tuning",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:    runFlagConfig,
					Aliases: []string{"c"},
					Usage:   "load configuration from `FILE`",
				},
				&cli.DurationFlag{
					Name:  runFlagDuration,
					Value: 0,
					Usage: "how long to run; runs until interrupted when zero",
				},
				&cli.Float64Flag{
					Name:  runFlagCurvature,
					Value: 0.002,
					Usage: "desired path curvature in 1/m, positive to the left",
				},
				&cli.Float64Flag{
					Name:  runFlagSpeed,
					Value: 20,
					Usage: "vehicle speed in m/s",
				},
				&cli.StringFlag{
					Name:  runFlagMode,
					Usage: "lateral mode overriding the config: hybrid, torque or indi",
				},
				&cli.PathFlag{
					Name:  tuningFlagDir,
					Usage: "tuning directory overriding the config",
				},
			},
			Action: RunAction,
		},
		{
			Name:  "check",
			Usage: "load every tuning file, repairing or creating it when needed",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  tuningFlagDir,
					Usage: "tuning directory",
				},
			},
			Action: CheckAction,
		},
		{
			Name:  "show",
			Usage: "print the validated tuning values",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  tuningFlagDir,
					Usage: "tuning directory",
				},
			},
			Action: ShowAction,
		},
		{
			Name:   "defaults",
			Usage:  "print every tunable parameter with its range and default",
			Action: DefaultsAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
