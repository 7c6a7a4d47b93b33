// Package logx gates the daemon's stdlib log output behind a
// process-wide verbosity threshold, so the log-level setting actually
// controls what gets emitted without pulling in a structured-logging
// dependency.
package logx

import (
	"log"
	"strings"
	"sync/atomic"
)

// Level orders message severities from chattiest to quietest.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var threshold atomic.Int32

func init() {
	threshold.Store(int32(LevelInfo))
}

// SetLevel sets the process-wide threshold from its configured name.
// Unknown names are ignored, leaving the current threshold in place.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		threshold.Store(int32(LevelDebug))
	case "info":
		threshold.Store(int32(LevelInfo))
	case "warn":
		threshold.Store(int32(LevelWarn))
	case "error":
		threshold.Store(int32(LevelError))
	}
}

func enabled(l Level) bool {
	return int32(l) >= threshold.Load()
}

// Debugf logs at debug verbosity.
func Debugf(format string, args ...any) {
	if enabled(LevelDebug) {
		log.Printf(format, args...)
	}
}

// Infof logs routine operational messages.
func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		log.Printf(format, args...)
	}
}

// Warnf logs recoverable failures.
func Warnf(format string, args ...any) {
	if enabled(LevelWarn) {
		log.Printf(format, args...)
	}
}

// Errorf logs failures that degrade a whole component.
func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		log.Printf(format, args...)
	}
}
