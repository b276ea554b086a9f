// Package transport defines the callback-based Transport/Factory
// contract (spec §6.2) and the Adapter that bridges it to an async,
// channel-based form the runtime can select over (spec §4.3).
package transport

import "context"

// SendResult is the synchronous outcome of Transport.Send.
type SendResult int

const (
	SendAccepted SendResult = iota
	SendNotConnected
	SendFailed
)

func (r SendResult) String() string {
	switch r {
	case SendAccepted:
		return "accepted"
	case SendNotConnected:
		return "not_connected"
	case SendFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Listener receives callbacks from a Transport. It must be set before
// Open is called (spec §6.2).
type Listener interface {
	OnOpen()
	OnMessage(text string)
	OnClosed(code int, reason string)
	OnFailure(cause error)
}

// Transport is one relay connection, callback-style (spec §6.2). A
// concrete implementation (e.g. WebSocketTransport) owns the actual
// socket; Adapter is the only caller that should ever touch a Transport
// directly.
type Transport interface {
	SetListener(l Listener)
	Open(ctx context.Context) error
	Send(frame string) SendResult
	SendWithConfirmation(frame string, cb func(ok bool, cause error))
	Close(code int, reason string) error
}

// Factory produces a fresh Transport for a given relay URL. The runtime
// calls this once per connection attempt (spec §4.4 "OpenConnection").
type Factory interface {
	New(url string) Transport
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(url string) Transport

// New implements Factory.
func (f FactoryFunc) New(url string) Transport { return f(url) }
