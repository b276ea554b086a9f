package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrDisposed is returned by Send/SendWithConfirmation after Dispose.
var ErrDisposed = errors.New("transport: adapter disposed")

// Terminal is the single terminal outcome an Adapter ever delivers: either
// a clean/unclean close with code+reason, or a failure with a cause
// (spec §4.3 "captures at most one terminal outcome").
type Terminal struct {
	Closed bool
	Code   int
	Reason string

	Failed bool
	Cause  error
}

// Adapter bridges a callback-style Transport to the channel-based,
// backpressured form the runtime's connection-attempt task selects over
// (spec §4.3, §9 "Transport callback -> async"). It implements Listener
// itself so it can sit directly in front of any Transport implementation.
type Adapter struct {
	conn Transport

	inbound    chan string
	terminalCh chan Terminal
	quit       chan struct{}

	disposeOnce  sync.Once
	terminalOnce sync.Once
}

// NewAdapter wraps conn, registering itself as conn's Listener. inboundBuf
// sizes the backpressured inbound frame buffer.
func NewAdapter(conn Transport, inboundBuf int) *Adapter {
	if inboundBuf <= 0 {
		inboundBuf = 1
	}
	a := &Adapter{
		conn:       conn,
		inbound:    make(chan string, inboundBuf),
		terminalCh: make(chan Terminal, 1),
		quit:       make(chan struct{}),
	}
	conn.SetListener(a)
	return a
}

// Open suspends until the underlying Transport's handshake completes or
// fails. Timeouts are the runtime's job (spec §4.3): pass a ctx with a
// deadline if you want one enforced here.
func (a *Adapter) Open(ctx context.Context) error {
	return a.conn.Open(ctx)
}

// Inbound is the ordered, bounded stream of relay frame text. A full
// buffer back-pressures the underlying transport's read loop, since
// OnMessage blocks on this channel.
func (a *Adapter) Inbound() <-chan string { return a.inbound }

// TerminalOutcome resolves exactly once, with whichever of Closed/Failed
// happens first.
func (a *Adapter) TerminalOutcome() <-chan Terminal { return a.terminalCh }

// Send hands frame straight to the underlying Transport's Send and
// returns its synchronous outcome (spec §4.3); the adapter keeps no
// outbound queue of its own. After Dispose it returns SendNotConnected.
func (a *Adapter) Send(frame string) SendResult {
	select {
	case <-a.quit:
		return SendNotConnected
	default:
	}
	return a.conn.Send(frame)
}

// SendWithConfirmation resolves cb only after frame has actually been
// written to the wire (or definitively failed) — the primitive the
// runtime uses to detect half-open connections (spec §4.3).
func (a *Adapter) SendWithConfirmation(frame string, cb func(ok bool, cause error)) {
	select {
	case <-a.quit:
		cb(false, ErrDisposed)
		return
	default:
	}
	a.conn.SendWithConfirmation(frame, cb)
}

// Close forwards a close request to the underlying Transport with a
// specific code/reason (spec §4.4 "CloseConnection(code, reason): call
// adapter.close(code, reason)"). The underlying Transport.Close is itself
// idempotent, so this composes safely with a later Dispose.
func (a *Adapter) Close(code int, reason string) error {
	select {
	case <-a.quit:
		return ErrDisposed
	default:
	}
	return a.conn.Close(code, reason)
}

// Dispose stops delivery of inbound frames (OnMessage drops frames from
// then on) and closes the underlying transport with code 1000. The
// Inbound channel itself is not closed. Idempotent (spec §4.3).
func (a *Adapter) Dispose() error {
	var err error
	a.disposeOnce.Do(func() {
		close(a.quit)
		err = a.conn.Close(1000, "adapter disposed")
	})
	return err
}

// --- Listener implementation ------------------------------------------

// OnOpen is a no-op: Open() already resolves synchronously with the
// handshake outcome, so there is no separate signal to forward here.
func (a *Adapter) OnOpen() {}

// OnMessage implements Listener.
func (a *Adapter) OnMessage(text string) {
	select {
	case a.inbound <- text:
	case <-a.quit:
	}
}

// OnClosed implements Listener.
func (a *Adapter) OnClosed(code int, reason string) {
	a.terminalOnce.Do(func() {
		select {
		case a.terminalCh <- Terminal{Closed: true, Code: code, Reason: reason}:
		case <-a.quit:
		}
	})
}

// OnFailure implements Listener.
func (a *Adapter) OnFailure(cause error) {
	a.terminalOnce.Do(func() {
		select {
		case a.terminalCh <- Terminal{Failed: true, Cause: cause}:
		case <-a.quit:
		}
	})
}
