package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/logging"
)

var warningColor = color.New(color.Bold, color.FgYellow)

const (
	loggerKey    = "logger"
	logCloserKey = "logCloser"
)

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck // no need to check for errors when printing
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, warningColor.Sprint("Warning: ")+format+"\n", a...)
}

// setupLogger builds the logger every action uses from the global flags.
func setupLogger(c *cli.Context) error {
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	logger := logging.NewBlankLogger("latctl")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(logging.INFO)
	}
	if path := c.Path(generalFlagLogFile); path != "" {
		appender, closer := logging.NewFileAppender(path)
		logger.AddAppender(appender)
		c.App.Metadata[logCloserKey] = closer
	}
	c.App.Metadata[loggerKey] = logger
	return nil
}

func closeLogger(c *cli.Context) error {
	if closer, ok := c.App.Metadata[logCloserKey].(io.Closer); ok {
		delete(c.App.Metadata, logCloserKey)
		return closer.Close()
	}
	return nil
}

func loggerFrom(c *cli.Context) logging.Logger {
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		return logger
	}
	return logging.NewLogger("latctl")
}

// tuningDir returns the directory passed with --dir, or the default one.
func tuningDir(c *cli.Context) string {
	if dir := c.Path(tuningFlagDir); dir != "" {
		return dir
	}
	return config.DefaultTuningDir
}

// readConfig returns the config named by --config, or the defaults.
func readConfig(c *cli.Context) (*config.Config, error) {
	path := c.Path(runFlagConfig)
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	cfg, err := config.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}
	return cfg, nil
}
