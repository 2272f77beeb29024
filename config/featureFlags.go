package config

import (
	"os"
	"strings"
	"time"
)

// AtomicBatchTransitions reports whether multi-row batch transitions
// (finish-picking seed, complete-session order flip) run inside a single DB
// transaction. When disabled, the batch runs as sequential per-order commits:
// a degraded compatibility mode with an acknowledged race window, kept only
// for environments where the atomic primitive is unavailable.
//
// Set via env:
// - ATOMIC_BATCH_TRANSITIONS=false (default true)
func AtomicBatchTransitions() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ATOMIC_BATCH_TRANSITIONS")))
	if v == "" {
		return true
	}
	return !(v == "0" || v == "false" || v == "no" || v == "n")
}

// SessionStaleWarnAfter is the inactivity window after which an open
// fulfillment session is surfaced as a warning.
//
// Set via env:
// - SESSION_STALE_WARN_HOURS (default 24)
func SessionStaleWarnAfter() time.Duration {
	return time.Duration(intFromEnv("SESSION_STALE_WARN_HOURS", 24)) * time.Hour
}

// SessionStaleCriticalAfter is the inactivity window after which an open
// fulfillment session is surfaced as critical.
//
// Set via env:
// - SESSION_STALE_CRITICAL_HOURS (default 48)
func SessionStaleCriticalAfter() time.Duration {
	return time.Duration(intFromEnv("SESSION_STALE_CRITICAL_HOURS", 48)) * time.Hour
}

// SessionForceAbandonAfter is the inactivity window beyond which the cleanup
// worker force-abandons open sessions. Advisory cleanup, not a correctness
// mechanism.
//
// Set via env:
// - SESSION_FORCE_ABANDON_HOURS (default 168 = 7 days)
func SessionForceAbandonAfter() time.Duration {
	return time.Duration(intFromEnv("SESSION_FORCE_ABANDON_HOURS", 168)) * time.Hour
}
