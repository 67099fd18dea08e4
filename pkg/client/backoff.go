package client

import "time"

const (
	// Base delay before the first reconnect attempt.
	baseReconnectDelay = time.Second

	// Ceiling on the reconnect delay.
	maxReconnectDelay = 30 * time.Second

	// MaxReconnectAttempts bounds automatic reconnection. Once reached,
	// no further retry is scheduled until the authentication state
	// toggles off and on again.
	MaxReconnectAttempts = 5
)

// ReconnectState is the transient client-side reconnection record:
// attempt counter and pending-retry flag. Transitions are pure
// functions returning the next state, so the backoff logic is testable
// without a real transport.
type ReconnectState struct {
	// Attempts counts consecutive failures. It increments only when a
	// retry is actually scheduled and resets to zero on a successful
	// open.
	Attempts int
}

// ReconnectDelay returns the backoff delay for a given attempt count:
// min(1s * 2^attempt, 30s).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 1s << 5 already exceeds the cap, avoid shift overflow beyond that
	if attempt > 5 {
		return maxReconnectDelay
	}
	delay := baseReconnectDelay << uint(attempt)
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay
}

// Schedule decides whether another reconnect may run. When allowed it
// returns the next state (attempt counter incremented) and the delay to
// wait; otherwise ok is false and the state is unchanged.
func (s ReconnectState) Schedule() (next ReconnectState, delay time.Duration, ok bool) {
	if s.Attempts >= MaxReconnectAttempts {
		return s, 0, false
	}
	return ReconnectState{Attempts: s.Attempts + 1}, ReconnectDelay(s.Attempts), true
}

// Opened resets the state after a successful connection.
func (s ReconnectState) Opened() ReconnectState {
	return ReconnectState{}
}

// GaveUp reports whether automatic reconnection is exhausted.
func (s ReconnectState) GaveUp() bool {
	return s.Attempts >= MaxReconnectAttempts
}
