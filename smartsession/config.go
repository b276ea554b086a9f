// Package smartsession is the request/response layer on top of package
// runtime (spec §4.5): a fixed-relay Session plus the eager operations
// and the multiplexed SharedSubscription that let a caller publish an
// event and await its relay response without hand-rolling subscription
// bookkeeping each time.
package smartsession

import "time"

// EagerRetryConfig governs how many times an eager operation
// (request_one/request_one_via/query) retries a stale link before giving
// up, and how long it waits at each stage.
type EagerRetryConfig struct {
	// MaxRetries bounds how many times the whole operation restarts after
	// a Timeout outcome.
	MaxRetries int

	// MinRetryBudget is the smallest remaining timeout worth attempting
	// another round with; below this the operation fails with Timeout
	// immediately rather than racing a doomed connect.
	MinRetryBudget time.Duration

	// StaleTimeoutThreshold is the number of consecutive Timeout outcomes
	// (while still nominally Connected) after which the operation forces
	// a reconnect before retrying, on the theory that the link is half-open.
	StaleTimeoutThreshold int

	// EagerConnectTimeout bounds how long await_connected waits for a
	// Connecting/fresh Connect to resolve.
	EagerConnectTimeout time.Duration

	// WriteTimeout, if nonzero, makes RequestOneVia await write
	// confirmation before waiting for a response; a failed write
	// short-circuits to a ConnectionFailed-flavored result (dead link).
	WriteTimeout time.Duration
}

// DefaultEagerRetryConfig returns reasonable defaults for a single
// publish/await-response round trip.
func DefaultEagerRetryConfig() EagerRetryConfig {
	return EagerRetryConfig{
		MaxRetries:            2,
		MinRetryBudget:        250 * time.Millisecond,
		StaleTimeoutThreshold: 2,
		EagerConnectTimeout:   5 * time.Second,
		WriteTimeout:          0,
	}
}
