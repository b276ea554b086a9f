package reduce

import "github.com/nostrcore/relaysession/event"

// OutputKind tags the variant of an Output.
type OutputKind int

const (
	OutConnectionStateChanged OutputKind = iota
	OutSubscriptionRegistered
	OutSubscriptionTerminated
	OutEventReceived
	OutEndOfStoredEvents
	OutPublishAcknowledged
	OutNotice
	OutAuthChallenge
	OutCountResult
	OutError
)

// Output is an application-visible notification emitted during a
// reduction (spec §4.1). Outputs from a single step are flushed together
// by the runtime, before the next intent is processed (spec §5).
type Output struct {
	Kind OutputKind

	// OutConnectionStateChanged
	Snapshot ConnectionSnapshot

	// OutSubscriptionRegistered, OutSubscriptionTerminated, OutEventReceived, OutEndOfStoredEvents, OutCountResult
	SubID event.SubscriptionID

	// OutEventReceived
	Event event.Event

	// OutPublishAcknowledged
	Result event.PublishResult

	// OutNotice
	Text string

	// OutAuthChallenge
	Challenge string
	URL       string

	// OutCountResult
	Count int

	// OutError
	Err EngineError
}
