package clog

import "github.com/sirupsen/logrus"

// LogrusProvider adapts a *logrus.Logger (or logrus.Entry-compatible
// wrapper) to the LogProvider interface, so Clog's Critical/Error/Warn/Debug
// calls become structured logrus entries instead of the bare stdlib
// "[E]: " prefix defaultLogger produces.
type LogrusProvider struct {
	Log *logrus.Logger
}

var _ LogProvider = LogrusProvider{}

// NewLogrusProvider wraps log, defaulting to logrus.StandardLogger() when
// log is nil.
func NewLogrusProvider(log *logrus.Logger) LogrusProvider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return LogrusProvider{Log: log}
}

// Critical logs at logrus' Error level tagged with kind=critical; logrus has
// no level above Error short of Panic/Fatal, neither of which fits a
// recoverable protocol condition.
func (p LogrusProvider) Critical(format string, v ...interface{}) {
	p.Log.WithField("kind", "critical").Errorf(format, v...)
}

func (p LogrusProvider) Error(format string, v ...interface{}) { p.Log.Errorf(format, v...) }
func (p LogrusProvider) Warn(format string, v ...interface{})  { p.Log.Warnf(format, v...) }
func (p LogrusProvider) Debug(format string, v ...interface{}) { p.Log.Debugf(format, v...) }

// NewDefaultLogger returns a Clog wired to logrus.StandardLogger(), enabled
// by default. Callers embedding the engine can still swap the provider via
// SetLogProvider or silence it via LogMode(false).
func NewDefaultLogger(prefix string) Clog {
	c := Clog{}
	c.SetLogProvider(NewLogrusProvider(logrus.StandardLogger().WithField("component", prefix).Logger))
	c.LogMode(true)
	return c
}
