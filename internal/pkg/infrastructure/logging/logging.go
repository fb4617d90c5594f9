package logging

import (
	"io"

	log "github.com/sirupsen/logrus"
)

//Logger interface that allows abstracting away the concrete logger implementation we are using
type Logger interface {
	//Fatal causes the application to terminate with the given error message
	Fatal(args ...interface{})
	//Fatalf causes the application to terminate with the given error message
	Fatalf(format string, args ...interface{})
	//Error logs a message at ERROR level
	Error(args ...interface{})
	//Errorf logs a message at ERROR level
	Errorf(format string, args ...interface{})
	//Warnf logs a message at WARN level
	Warnf(format string, args ...interface{})
	//Infof logs a message at INFO level
	Infof(format string, args ...interface{})
	//Debugf logs a message at DEBUG level
	Debugf(format string, args ...interface{})
	//WithField returns a Logger that adds the given field to every entry
	WithField(key string, value interface{}) Logger
}

//NewLogger instantiates a new JSON logger on top of the standard logrus logger and returns it
func NewLogger() Logger {
	log.SetFormatter(&log.JSONFormatter{})
	return &logger{entry: log.NewEntry(log.StandardLogger())}
}

//NewLoggerWithLevel is like NewLogger but also sets the minimum level, e.g. "debug" or "warn"
func NewLoggerWithLevel(level string) Logger {
	l := NewLogger()
	if lvl, err := log.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	} else {
		l.Warnf("unknown log level %q, keeping %s", level, log.GetLevel())
	}
	return l
}

//NewDiscardLogger returns a Logger that drops everything. Meant for tests.
func NewDiscardLogger() Logger {
	impl := log.New()
	impl.SetOutput(io.Discard)
	return &logger{entry: log.NewEntry(impl)}
}

type logger struct {
	entry *log.Entry
}

func (l *logger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *logger) Fatal(args ...interface{}) {
	l.entry.Fatal(args...)
}

func (l *logger) Fatalf(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

func (l *logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *logger) WithField(key string, value interface{}) Logger {
	return &logger{entry: l.entry.WithField(key, value)}
}
