// Package lifecycle tracks the process phase reported by /health.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Phase is the coarse process state.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseReady
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseReady:
		return "ready"
	case PhaseShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var (
	phase     atomic.Int32
	startedAt atomic.Int64
)

func init() {
	startedAt.Store(time.Now().UnixNano())
}

// MarkReady moves the process to PhaseReady unless it is already draining.
func MarkReady() {
	phase.CompareAndSwap(int32(PhaseStarting), int32(PhaseReady))
}

// SetShuttingDown sets or clears the draining flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	if v {
		phase.Store(int32(PhaseShuttingDown))
		return
	}
	phase.Store(int32(PhaseReady))
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == PhaseShuttingDown
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// Uptime returns the time since the process started (or since the last Reset).
func Uptime() time.Duration {
	return time.Since(time.Unix(0, startedAt.Load()))
}

// Reset returns to PhaseStarting and restarts the uptime clock. Used by tests.
func Reset() {
	phase.Store(int32(PhaseStarting))
	startedAt.Store(time.Now().UnixNano())
}
