// Copyright The elfbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package log provides the logging facade used across elfbin. Parsing is
// tolerant by design: recoverable anomalies in malformed inputs are reported
// through this package instead of failing the parse.
package log

import (
	"github.com/sirupsen/logrus"
)

const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel

	// time.RFC3339Nano removes trailing zeros from the seconds field.
	// The following format doesn't (fixed-width output).
	timeStampFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// Logger encapsulates structured logging, embedding the logging library interface.
type Logger interface {
	logrus.FieldLogger
}

var logger = StandardLogger()

// StandardLogger provides the logger singleton used in this module. The defaults
// conform to structured logging practice: quoted fields and nanosecond,
// fixed-width timestamps.
func StandardLogger() Logger {
	l := logrus.StandardLogger()
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:          true,
		FullTimestamp:          true,
		TimestampFormat:        timeStampFormat,
		DisableSorting:         true,
		DisableLevelTruncation: true,
		QuoteEmptyFields:       true,
	})
	l.SetLevel(InfoLevel)
	l.SetReportCaller(false)
	return l
}

// SetLevel adjusts the level of the global logger.
func SetLevel(level logrus.Level) {
	logrus.SetLevel(level)
}

// Labels adds key/value pairs to messages, for later filtering.
type Labels map[string]any

// With augments the structured log message using the provided key/value map.
// Avoid values with an unbound number of unique occurrences: high-cardinality
// labels make the resulting logs expensive to query.
func With(labels Labels) Logger {
	return logger.WithFields(logrus.Fields(labels))
}

// Errorf mirrors the library function, using the global logger.
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

// Warnf mirrors the library function, using the global logger.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Infof mirrors the library function, using the global logger.
func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

// Debugf mirrors the library function, using the global logger.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Error mirrors the library function, using the global logger.
func Error(args ...any) {
	logger.Error(args...)
}

// Warn mirrors the library function, using the global logger.
func Warn(args ...any) {
	logger.Warn(args...)
}

// Info mirrors the library function, using the global logger.
func Info(args ...any) {
	logger.Info(args...)
}

// Debug mirrors the library function, using the global logger.
func Debug(args ...any) {
	logger.Debug(args...)
}
