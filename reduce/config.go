package reduce

import "github.com/nostrcore/relaysession/event"

// Config holds the reducer's tunables (spec §4.1). Fields are used exactly
// as given; zero values are not replaced by defaults (a zero
// MaxPublishStatuses retains no statuses), so callers normally start from
// DefaultConfig() and override individual fields.
type Config struct {
	// MaxEventReplayIDs bounds each subscription's dedupe buffer. 0
	// disables dedupe entirely; default 200.
	MaxEventReplayIDs int

	// MaxPublishStatuses bounds SessionState.PublishStatuses; default 200.
	MaxPublishStatuses int

	// VerifyEventIDs, when true, recomputes the canonical id of every
	// inbound EVENT frame via Hasher and rejects mismatches as a
	// ProtocolViolation. Default false (verification has a cost and the
	// relay is already trusted by the time you're talking to it over a
	// session).
	VerifyEventIDs bool

	// Hasher computes canonical event ids. It is consulted only when
	// VerifyEventIDs is true; when it is nil, no verification happens
	// even if VerifyEventIDs is set.
	Hasher event.Hasher
}

// DefaultConfig returns the spec §6.5 defaults.
func DefaultConfig() Config {
	return Config{
		MaxEventReplayIDs:  200,
		MaxPublishStatuses: 200,
		VerifyEventIDs:     false,
	}
}
