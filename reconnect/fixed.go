package reconnect

import (
	"time"

	"github.com/nostrcore/relaysession/reduce"
)

// FixedDelay retries at a constant interval, optionally giving up after
// MaxAttempts (0 = unlimited).
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NextDelay implements Policy.
func (f FixedDelay) NextDelay(attempt int, lastFailure *reduce.EngineError) (time.Duration, bool) {
	if f.MaxAttempts > 0 && attempt >= f.MaxAttempts {
		return 0, false
	}
	return f.Delay, true
}
