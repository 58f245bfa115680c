// Package mplog is a thin wrapper around logrus, shared by every
// component in this module so that sampler/resolver/orchestrator logs
// share one format and one level.
package mplog

import "github.com/sirupsen/logrus"

const (
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel

	timeStampFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// Logger mirrors the logrus field logger interface so callers never
// need to import logrus directly.
type Logger interface {
	logrus.FieldLogger
}

// logger is the package-level singleton every component logs through.
var logger = newLogger()

func newLogger() Logger {
	l := logrus.StandardLogger()
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		TimestampFormat:  timeStampFormat,
		DisableSorting:   true,
		QuoteEmptyFields: true,
	})
	l.SetLevel(InfoLevel)
	l.SetNoLock()
	l.SetReportCaller(false)
	return l
}

// SetLevel adjusts the global logger's verbosity.
func SetLevel(level logrus.Level) {
	logger.(*logrus.Logger).SetLevel(level)
}

// Fields augments a log line with structured key/value pairs.
type Fields map[string]any

// With returns a logger that always attaches the given fields.
func With(fields Fields) Logger {
	return logger.WithFields(logrus.Fields(fields))
}

func Errorf(format string, args ...any) { logger.Errorf(format, args...) }
func Warnf(format string, args ...any)  { logger.Warnf(format, args...) }
func Infof(format string, args ...any)  { logger.Infof(format, args...) }
func Debugf(format string, args ...any) { logger.Debugf(format, args...) }

func Error(args ...any) { logger.Error(args...) }
func Warn(args ...any)  { logger.Warn(args...) }
func Info(args ...any)  { logger.Info(args...) }
func Debug(args ...any) { logger.Debug(args...) }
