package reduce

import (
	"github.com/nostrcore/relaysession/event"
	"github.com/nostrcore/relaysession/protocol"
)

// IntentKind tags the variant of an Intent.
type IntentKind int

const (
	IntentConnect IntentKind = iota
	IntentDisconnect
	IntentSubscribe
	IntentUnsubscribe
	IntentPublish
	IntentAuthenticate
	IntentConnectionEstablished
	IntentConnectionClosed
	IntentConnectionFailed
	IntentRelayFrame
	IntentOutboundFailure
)

// Intent is every input the reducer accepts (spec §4.1). The runtime
// constructs these from application calls and transport events; the
// reducer never retains a reference to one past the call that consumes it.
type Intent struct {
	Kind IntentKind

	// IntentConnect
	URL string

	// IntentDisconnect
	Code   *int
	Reason *string

	// IntentSubscribe, IntentUnsubscribe
	SubID   event.SubscriptionID
	Filters []event.Filter

	// IntentPublish, IntentAuthenticate
	Event event.Event

	// IntentConnectionClosed
	ClosedCode   int
	ClosedReason string

	// IntentConnectionFailed
	FailURL         *string
	FailReason      ConnectionFailureReason
	FailMessage     string
	FailCloseCode   *int
	FailCloseReason *string
	FailCause       error

	// IntentRelayFrame
	Frame protocol.RelayMessage

	// IntentOutboundFailure
	FailedCommand string
	OutboundReason string
}
