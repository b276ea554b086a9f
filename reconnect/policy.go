// Package reconnect implements the reconnection-delay policies the
// runtime consults after a connection failure or close (spec §4.6). A
// Policy never touches the transport directly — it only answers "how
// long until the next attempt, if any", matching the message-passing
// design note in spec §9 ("the policy does not drive the transport
// directly; it yields a delay").
package reconnect

import (
	"time"

	"github.com/nostrcore/relaysession/reduce"
)

// Policy decides the delay before the next reconnect attempt.
type Policy interface {
	// NextDelay returns the delay before attempt number `attempt` (1 is
	// the first retry after the initial failure), and ok=false if the
	// policy gives up.
	NextDelay(attempt int, lastFailure *reduce.EngineError) (delay time.Duration, ok bool)
}

// None never reconnects.
type None struct{}

// NextDelay implements Policy.
func (None) NextDelay(attempt int, lastFailure *reduce.EngineError) (time.Duration, bool) {
	return 0, false
}
