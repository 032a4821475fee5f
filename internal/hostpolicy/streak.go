// Package hostpolicy implements the dispatcher's per-host politeness rules:
// the timeout streak tracker that disables flaky hosts and the token bucket
// limiter the fetch worker uses between requests to the same host.
package hostpolicy

import "sync"

// DefaultBlockStreak is how many consecutive timeouts disable a host.
const DefaultBlockStreak = 3

// StreakTracker counts consecutive timeout failures per host. Any non-timeout
// outcome for a host resets its streak.
type StreakTracker struct {
	mu          sync.Mutex
	streaks     map[string]int
	blockStreak int
}

// NewStreakTracker creates a tracker that trips after blockStreak consecutive
// timeouts. Values below 1 fall back to DefaultBlockStreak.
func NewStreakTracker(blockStreak int) *StreakTracker {
	if blockStreak < 1 {
		blockStreak = DefaultBlockStreak
	}
	return &StreakTracker{
		streaks:     make(map[string]int),
		blockStreak: blockStreak,
	}
}

// RecordTimeout bumps the host's streak and reports whether the host crossed
// the disable threshold. The streak resets once the threshold trips so a
// re-enabled host starts clean.
func (t *StreakTracker) RecordTimeout(host string) bool {
	if host == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streaks[host]++
	if t.streaks[host] >= t.blockStreak {
		delete(t.streaks, host)
		return true
	}
	return false
}

// RecordOutcome resets the host's streak after any non-timeout result.
func (t *StreakTracker) RecordOutcome(host string) {
	if host == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streaks, host)
}

// Streak returns the current consecutive timeout count for a host.
func (t *StreakTracker) Streak(host string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streaks[host]
}
