// Package logging contains the structured, leveled logger used by the lateral control stack.
//
// A logger writes every enabled entry to a set of appenders. Subloggers share their parent's
// appenders, so an appender added to the root after the tree was built (for example the
// --log-file appender of latctl) reaches every component.
package logging

// Logger is the logging interface handed to every component. The f flavours format with
// fmt.Sprintf, the w flavours take alternating keys and values.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger named "<name>.<subname>" writing to the same appenders.
	Sublogger(subname string) Logger
	SetLevel(level Level)
	GetLevel() Level
	// AddAppender adds an output to this logger and every logger sharing its appenders.
	AddAppender(appender Appender)
	Sync() error
}

// NewLogger returns a logger writing Info and above to stdout in UTC.
func NewLogger(name string) Logger {
	return newLogger(name, INFO, true, NewStdoutAppender())
}

// NewBlankLogger returns a Debug level logger in UTC with no outputs yet.
func NewBlankLogger(name string) Logger {
	return newLogger(name, DEBUG, true)
}
