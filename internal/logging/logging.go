// Package logging is a thin leveled wrapper over the standard log
// package, matching the proxy's existing log.Printf lifecycle-message
// style (success/warning/stop markers) instead of introducing a
// structured logging dependency the rest of the codebase doesn't use.
package logging

import (
	"log"
	"strings"
	"sync/atomic"
)

// Level orders the four levels the proxy's LOG_LEVEL option accepts.
type Level int32

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// ParseLevel maps a config string to a Level, defaulting to Info for
// anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

var current int32 = int32(Info)

// SetLevel changes the minimum level that gets logged.
func SetLevel(l Level) {
	atomic.StoreInt32(&current, int32(l))
}

func enabled(l Level) bool {
	return int32(l) >= atomic.LoadInt32(&current)
}

// Debugf logs a diagnostic message, hidden unless LOG_LEVEL=debug.
func Debugf(format string, args ...interface{}) {
	if enabled(Debug) {
		log.Printf("🔍 "+format, args...)
	}
}

// Infof logs a normal lifecycle message.
func Infof(format string, args ...interface{}) {
	if enabled(Info) {
		log.Printf("✅ "+format, args...)
	}
}

// Warnf logs a recoverable problem.
func Warnf(format string, args ...interface{}) {
	if enabled(Warn) {
		log.Printf("⚠️ "+format, args...)
	}
}

// Errorf logs a failure that did not stop the process.
func Errorf(format string, args ...interface{}) {
	if enabled(Error) {
		log.Printf("❌ "+format, args...)
	}
}

// Fatalf logs and exits, regardless of the configured level.
func Fatalf(format string, args ...interface{}) {
	log.Fatalf("❌ "+format, args...)
}
