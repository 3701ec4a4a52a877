// Package log is the process logger: logrus behind a small interface, with
// a console sink and an optional rotating file sink at independent levels.
package log

import (
	"io"
	"sync"
)

// Logger is the subset of logrus the driver and daemon log through.
type Logger interface {
	Trace(args ...interface{})
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

// ComponentField tags entries with the subsystem that wrote them.
const ComponentField = "component"

var (
	mu     sync.RWMutex
	logger Logger = newDefault()
	closer io.Closer
)

// GetLogger returns the process logger. Before Init it writes text to
// stdout at info level.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Named returns the process logger tagged with component.
func Named(component string) Logger {
	return GetLogger().WithField(ComponentField, component)
}

// Init replaces the process logger. The file sink of a previous Init, if
// any, is closed.
func Init(cfg *LoggerConfig) error {
	l, c, err := newLogger(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	prev := closer
	logger, closer = l, c
	mu.Unlock()
	if prev != nil {
		return prev.Close()
	}
	return nil
}

// Close flushes and closes the file sink. The console sink stays usable.
func Close() error {
	mu.Lock()
	c := closer
	closer = nil
	mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
