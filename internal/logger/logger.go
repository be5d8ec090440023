// Package logger provides a lightweight, centralized logging facility
// with configurable verbosity levels.
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Output is produced by zerolog, either as human-readable console lines
// (default) or as JSON records for log collectors.
//
// Example usage:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("fitting baseline")
//	logger.Debugf("a=%.4f b=%.4f c=%.4f", a, b, c)
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level pipeline progress.
	Debug              // Debug logs intermediate values.
	Trace              // Trace logs solver iterations and grid details.
)

var (
	mu      sync.RWMutex
	current = Info
	zl      = newZerolog(os.Stderr, "console")
)

func newZerolog(w io.Writer, format string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.TraceLevel)
}

// Setup redirects log output. format is "console" or "json";
// anything else falls back to console.
func Setup(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()
	zl = newZerolog(w, format)
}

// SetVerbosity sets the global logging verbosity.
// Out-of-range values are clamped to the nearest level.
func SetVerbosity(v int) {
	l := Level(v)
	if l < Error {
		l = Error
	}
	if l > Trace {
		l = Trace
	}
	mu.Lock()
	current = l
	mu.Unlock()
}

// Verbosity returns the active level.
func Verbosity() Level {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func logf(l Level, format string, args ...any) {
	mu.RLock()
	enabled := current >= l
	z := zl
	mu.RUnlock()
	if !enabled {
		return
	}

	var ev *zerolog.Event
	switch l {
	case Error:
		ev = z.Error()
	case Info:
		ev = z.Info()
	case Debug:
		ev = z.Debug()
	default:
		ev = z.Trace()
	}
	ev.Msg(fmt.Sprintf(format, args...))
}

// Errorf logs an error-level message.
func Errorf(format string, args ...any) {
	logf(Error, format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...any) {
	logf(Info, format, args...)
}

// Debugf logs debugging information.
func Debugf(format string, args ...any) {
	logf(Debug, format, args...)
}

// Tracef logs very detailed execution traces.
// Use this sparingly due to high volume.
func Tracef(format string, args ...any) {
	logf(Trace, format, args...)
}
