package clock

import "time"

var base = time.Now()

// NowFunc returns the current monotonic time in nanoseconds since process
// start. Override in tests for determinism; run-queue clocks are sampled
// from it at every scheduling event.
var NowFunc = func() int64 { return int64(time.Since(base)) }

// NowNS is a thin wrapper around NowFunc.
func NowNS() int64 { return NowFunc() }
