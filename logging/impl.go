package logging

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// callerSkip walks from callerOf past log and the public method to the user's frame.
const callerSkip = 3

var errUnpairedKey = errors.New("unpaired log key")

// appenderSet is the list of outputs shared by a logger tree.
type appenderSet struct {
	mu        sync.RWMutex
	appenders []Appender
}

func (as *appenderSet) add(a Appender) {
	as.mu.Lock()
	as.appenders = append(as.appenders, a)
	as.mu.Unlock()
}

func (as *appenderSet) write(entry zapcore.Entry, fields []zapcore.Field) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	var err error
	for _, a := range as.appenders {
		err = multierr.Append(err, a.Write(entry, fields))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to write log entry:", err)
	}
}

func (as *appenderSet) sync() error {
	as.mu.RLock()
	defer as.mu.RUnlock()
	var err error
	for _, a := range as.appenders {
		err = multierr.Append(err, a.Sync())
	}
	return err
}

type logger struct {
	name  string
	level AtomicLevel
	// local time is only used by test loggers
	utc   bool
	sinks *appenderSet
}

func newLogger(name string, level Level, utc bool, appenders ...Appender) *logger {
	return &logger{
		name:  name,
		level: NewAtomicLevelAt(level),
		utc:   utc,
		sinks: &appenderSet{appenders: appenders},
	}
}

func (l *logger) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	return &logger{
		name:  name,
		level: NewAtomicLevelAt(l.level.Get()),
		utc:   l.utc,
		sinks: l.sinks,
	}
}

func (l *logger) SetLevel(level Level) {
	l.level.Set(level)
}

func (l *logger) GetLevel() Level {
	return l.level.Get()
}

func (l *logger) AddAppender(appender Appender) {
	l.sinks.add(appender)
}

func (l *logger) Sync() error {
	return l.sinks.sync()
}

// log builds one entry. The message is fmt.Sprint(args) without a template and
// fmt.Sprintf(template, args) with one; keysAndValues become structured fields.
func (l *logger) log(level Level, template string, args, keysAndValues []interface{}) {
	if level < l.level.Get() {
		return
	}
	msg := template
	switch {
	case template == "" && len(args) > 0:
		msg = fmt.Sprint(args...)
	case template != "" && len(args) > 0:
		msg = fmt.Sprintf(template, args...)
	}
	now := time.Now()
	if l.utc {
		now = now.UTC()
	}
	l.sinks.write(zapcore.Entry{
		Level:      level.AsZap(),
		Time:       now,
		LoggerName: l.name,
		Message:    msg,
		Caller:     callerOf(callerSkip),
	}, fieldsFrom(keysAndValues))
}

// fieldsFrom pairs up keys and values. A trailing key without a value is kept with an error
// in its place.
func fieldsFrom(keysAndValues []interface{}) []zapcore.Field {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for len(keysAndValues) > 0 {
		key := fmt.Sprint(keysAndValues[0])
		if len(keysAndValues) == 1 {
			fields = append(fields, zap.NamedError(key, errUnpairedKey))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[1]))
		keysAndValues = keysAndValues[2:]
	}
	return fields
}

func callerOf(skip int) zapcore.EntryCaller {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return zapcore.EntryCaller{}
	}
	caller := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}

func (l *logger) Debug(args ...interface{}) { l.log(DEBUG, "", args, nil) }

func (l *logger) Debugf(template string, args ...interface{}) { l.log(DEBUG, template, args, nil) }

func (l *logger) Debugw(msg string, keysAndValues ...interface{}) {
	l.log(DEBUG, msg, nil, keysAndValues)
}

func (l *logger) Info(args ...interface{}) { l.log(INFO, "", args, nil) }

func (l *logger) Infof(template string, args ...interface{}) { l.log(INFO, template, args, nil) }

func (l *logger) Infow(msg string, keysAndValues ...interface{}) {
	l.log(INFO, msg, nil, keysAndValues)
}

func (l *logger) Warn(args ...interface{}) { l.log(WARN, "", args, nil) }

func (l *logger) Warnf(template string, args ...interface{}) { l.log(WARN, template, args, nil) }

func (l *logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.log(WARN, msg, nil, keysAndValues)
}

func (l *logger) Error(args ...interface{}) { l.log(ERROR, "", args, nil) }

func (l *logger) Errorf(template string, args ...interface{}) { l.log(ERROR, template, args, nil) }

func (l *logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.log(ERROR, msg, nil, keysAndValues)
}
