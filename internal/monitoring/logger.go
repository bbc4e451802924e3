package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var debug atomic.Bool

// SetDebug enables or disables Debugf output.
func SetDebug(on bool) {
	debug.Store(on)
}

// DebugEnabled reports whether Debugf output is enabled.
func DebugEnabled() bool {
	return debug.Load()
}

// Debugf logs through Logf with a "debug: " prefix when debug output is
// enabled, and does nothing otherwise. Per-report and per-tick detail goes
// here so a normal run only logs state changes.
func Debugf(format string, v ...interface{}) {
	if !debug.Load() {
		return
	}
	Logf("debug: "+format, v...)
}
