package runtime

import (
	"time"

	"github.com/nostrcore/relaysession/reduce"
)

// Telemetry is the runtime's polling-friendly view of reconnection state
// (spec §12 supplement; generalizes the teacher's ad hoc public channels
// -- Relay.Challenges/.Notices/.Errors in bumi-go-nostr/relay.go -- into
// one coherent, observable struct). It complements, rather than
// replaces, the Output stream: Output is for one-shot notifications,
// Telemetry is the source of truth for polling UIs (spec §7).
type Telemetry struct {
	Attempt        int
	IsRetrying     bool
	LastFailure    *reduce.EngineError
	LastReconnectDelay time.Duration
	UpdatedAt      time.Time
}
