// Package xlog is a small leveled-logging helper wrapping the standard
// library's log.Logger, in the spirit of the pack's printf-style debug
// helpers (glycerine/rpc25519's vv()) rather than pulling in a structured
// logging framework for a handful of warn/info lines.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package xlog

import (
	"log"
	"os"
	"sync/atomic"
)

var std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

var debugEnabled int32

// SetDebug toggles Debugf output at runtime.
func SetDebug(enabled bool) {
	if enabled {
		atomic.StoreInt32(&debugEnabled, 1)
	} else {
		atomic.StoreInt32(&debugEnabled, 0)
	}
}

// Warnf logs a warning. Duplicate call-id and negotiation-failure
// messages from the reactor go through this.
func Warnf(format string, args ...any) {
	std.Printf("WARN "+format, args...)
}

// Infof logs informational events such as slow-call trace dumps.
func Infof(format string, args ...any) {
	std.Printf("INFO "+format, args...)
}

// Debugf logs only when SetDebug(true) has been called.
func Debugf(format string, args ...any) {
	if atomic.LoadInt32(&debugEnabled) == 1 {
		std.Printf("DEBUG "+format, args...)
	}
}
