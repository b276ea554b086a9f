// Package reduce implements the pure session reducer (spec §4.1): a
// deterministic (state, intent) -> (state, commands) function plus the
// SessionState value it operates over. Nothing here performs I/O.
package reduce

import "github.com/nostrcore/relaysession/event"

// ConnectionSnapshotKind tags the variant of a ConnectionSnapshot.
type ConnectionSnapshotKind int

const (
	Disconnected ConnectionSnapshotKind = iota
	Connecting
	Connected
	Disconnecting
	Failed
)

// ConnectionSnapshot is the reducer's view of the transport's lifecycle.
type ConnectionSnapshot struct {
	Kind ConnectionSnapshotKind

	URL string // Connecting, Connected, Disconnecting, Failed (optional there)

	// Disconnecting
	CloseCode   *int
	CloseReason *string

	// Failed
	Message      string
	Reason       ConnectionFailureReason
	FailCloseCode   *int
	FailCloseReason *string
	Cause           error
}

// ConnectionFailureReason classifies why a connection attempt failed
// (spec §6.3).
type ConnectionFailureReason int

const (
	ReasonUnknown ConnectionFailureReason = iota
	ReasonConnectionFactory
	ReasonOpenHandshake
	ReasonStreamFailure
)

func (r ConnectionFailureReason) String() string {
	switch r {
	case ReasonConnectionFactory:
		return "connection_factory"
	case ReasonOpenHandshake:
		return "open_handshake"
	case ReasonStreamFailure:
		return "stream_failure"
	default:
		return "unknown"
	}
}

// SubscriptionStatus is the lifecycle state of a SubscriptionState.
type SubscriptionStatus int

const (
	SubPending SubscriptionStatus = iota
	SubActive
	SubClosing
	SubClosed
)

func (s SubscriptionStatus) String() string {
	switch s {
	case SubPending:
		return "pending"
	case SubActive:
		return "active"
	case SubClosing:
		return "closing"
	case SubClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SubscriptionState tracks one REQ's lifecycle and its dedupe window.
type SubscriptionState struct {
	ID      event.SubscriptionID
	Filters []event.Filter
	Status  SubscriptionStatus

	// ReceivedEventIDs is oldest -> newest, bounded by Config.MaxEventReplayIDs.
	ReceivedEventIDs []event.ID

	EoseReceived bool
}

// PublishStatusKind tags the variant of a PublishStatus.
type PublishStatusKind int

const (
	PublishPending PublishStatusKind = iota
	PublishAcknowledged
)

// PublishStatus is the lifecycle of one published event's acknowledgement.
type PublishStatus struct {
	Kind   PublishStatusKind
	Result event.PublishResult // only meaningful when Kind == PublishAcknowledged
}

// EngineErrorKind tags the variant of an EngineError.
type EngineErrorKind int

const (
	ErrConnectionFailure EngineErrorKind = iota
	ErrProtocolViolation
	ErrOutboundFailure
)

// EngineError is the typed error taxonomy surfaced to the application
// (spec §3, §7).
type EngineError struct {
	Kind EngineErrorKind

	// ErrConnectionFailure
	URL         string
	Reason      ConnectionFailureReason
	Message     string
	CloseCode   *int
	CloseReason *string
	Cause       error

	// ErrProtocolViolation
	Description string

	// ErrOutboundFailure
	OutboundReason string
}

func (e EngineError) Error() string {
	switch e.Kind {
	case ErrConnectionFailure:
		return "connection failure: " + e.Message
	case ErrProtocolViolation:
		return "protocol violation: " + e.Description
	case ErrOutboundFailure:
		return "outbound failure: " + e.OutboundReason
	default:
		return "unknown engine error"
	}
}

// AuthAttempt records the last AUTH event the client sent and whether the
// relay has acknowledged it yet.
type AuthAttempt struct {
	Challenge string
	EventID   event.ID
	Accepted  *bool
	Message   string
}

// AuthState tracks NIP-42 challenge/response progress.
type AuthState struct {
	Challenge     *string
	LatestAttempt *AuthAttempt
}

// SessionState is the reducer's complete, immutable view of one relay
// session. Reduce returns a new value each step; nothing here is mutated
// in place by the reducer itself (the engine, not the reducer, owns the
// single copy of "current" state).
type SessionState struct {
	DesiredRelayURL *string
	Connection      ConnectionSnapshot
	Subscriptions   map[event.SubscriptionID]SubscriptionState
	PendingPublishes []event.Event
	PublishStatuses  *OrderedStatuses
	LastError        *EngineError
	Auth             AuthState
}

// NewSessionState returns the zero/initial state: disconnected, no subs,
// no pending work.
func NewSessionState() SessionState {
	return SessionState{
		Connection:       ConnectionSnapshot{Kind: Disconnected},
		Subscriptions:    map[event.SubscriptionID]SubscriptionState{},
		PendingPublishes: nil,
		PublishStatuses:  newOrderedStatuses(200),
	}
}
