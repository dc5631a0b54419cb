// Package logger wraps charmbracelet/log with package-level helpers and the
// rate limiting used for steady-state protocol diagnostics.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var Logger *log.Logger

func init() {
	Logger = log.New(os.Stderr)
	SetLevel(os.Getenv("LOG_LEVEL"))
}

// SetLevel adjusts the global log level. Unknown or empty values fall back
// to INFO. The config package calls this again once the config file has been
// read, so a file-level setting overrides the environment.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		Logger.SetLevel(log.DebugLevel)
	case "INFO":
		Logger.SetLevel(log.InfoLevel)
	case "WARN", "WARNING":
		Logger.SetLevel(log.WarnLevel)
	case "ERROR":
		Logger.SetLevel(log.ErrorLevel)
	case "FATAL":
		Logger.SetLevel(log.FatalLevel)
	default:
		Logger.SetLevel(log.InfoLevel)
	}
}

// Convenience functions for common operations
func Info(msg interface{}, keyvals ...interface{}) {
	Logger.Info(msg, keyvals...)
}

func Debug(msg interface{}, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

func Warn(msg interface{}, keyvals ...interface{}) {
	Logger.Warn(msg, keyvals...)
}

func Error(msg interface{}, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
}

func Fatal(msg interface{}, keyvals ...interface{}) {
	Logger.Fatal(msg, keyvals...)
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	Logger.Fatalf(format, args...)
}

// Limiter gates repeated diagnostics so a misbehaving backend cannot flood
// the log from the event path. At most one Allow per interval succeeds;
// Dropped reports how many were suppressed since the last success.
type Limiter struct {
	mu      sync.Mutex
	every   time.Duration
	last    time.Time
	dropped int
}

// NewLimiter returns a Limiter allowing one diagnostic per interval.
func NewLimiter(every time.Duration) *Limiter {
	return &Limiter{every: every}
}

// Allow reports whether the caller may emit a diagnostic now.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.last.IsZero() || now.Sub(l.last) >= l.every {
		l.last = now
		l.dropped = 0
		return true
	}
	l.dropped++
	return false
}

// Dropped returns the number of diagnostics suppressed since the last one
// that was allowed through.
func (l *Limiter) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
