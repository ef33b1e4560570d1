// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks spawned goroutines for diagnostics
var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// SafeGo runs a function in a goroutine with panic recovery.
// Panics are logged but don't crash the service.
//
// Example:
//
//	common.SafeGo(logger, "queue-dispatcher", func() {
//	    q.dispatch()
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer RecoverPanic(logger, name)
		fn()
	}()
}

// RecoverPanic logs a recovered panic with its stack. Call it deferred.
func RecoverPanic(logger arbor.ILogger, name string) {
	if r := recover(); r != nil {
		LogPanic(logger, name, r)
	}
}

// LogPanic logs a value already obtained from recover()
func LogPanic(logger arbor.ILogger, name string, r interface{}) {
	stackTrace := GetStackTrace()
	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic - continuing service operation")
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in %s: %v\n%s\n", name, r, stackTrace)
}

// GetStackTrace returns the current goroutine's stack trace.
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
