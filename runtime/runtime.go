// Package runtime owns the engine, the transport adapter, and the single
// background processing task that ties them together (spec §4.4). It is
// the outermost layer most applications talk to directly; SharedSubscription
// and the eager request helpers in package smartsession are built on top
// of it.
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nostrcore/relaysession/engine"
	"github.com/nostrcore/relaysession/event"
	"github.com/nostrcore/relaysession/protocol"
	"github.com/nostrcore/relaysession/reduce"
	"github.com/nostrcore/relaysession/transport"
)

// ErrShutdown is returned by public operations called after Shutdown.
var ErrShutdown = errors.New("runtime: shut down")

// PublishHandle resolves to the WriteOutcome of one publish() call (spec
// §4.4 "publish ... returns a handle").
type PublishHandle struct {
	ch chan WriteOutcome
}

// Wait blocks until the write resolves or ctx is done.
func (h *PublishHandle) Wait(ctx context.Context) (WriteOutcome, error) {
	select {
	case o := <-h.ch:
		return o, nil
	case <-ctx.Done():
		return WriteTimeout, ctx.Err()
	}
}

// connAttempt is the bookkeeping for one OpenConnection's background task
// (spec §4.4 "Connection attempt task").
type connAttempt struct {
	token   uint64
	adapter *transport.Adapter
	cancel  context.CancelFunc
}

// Runtime is the owner of one engine, one optional transport adapter, an
// intent queue, and the state/output/telemetry broadcast streams (spec
// §4.4). All mutable fields below are touched only from the processing
// loop goroutine; public methods communicate into it exclusively through
// intents or the shutdown channel (spec §5).
type Runtime struct {
	cfg    Config
	engine *engine.Engine
	log    *slog.Logger

	intents chan reduce.Intent
	done    chan struct{}
	closed  sync.Once

	stateStream     *broadcaster[reduce.SessionState]
	outputStream    *broadcaster[reduce.Output]
	telemetryStream *broadcaster[Telemetry]

	writes *writeTracker

	// processing-loop-confined fields
	attempt        *connAttempt
	attemptCounter uint64

	// currentToken mirrors attempt's token (0 when no attempt is active)
	// but is read from connection-attempt goroutines outside the
	// processing loop, so it's kept in an atomic rather than read
	// straight off r.attempt (spec §4.4 step 4: "Check the attempt token
	// before any enqueue").
	currentToken atomic.Uint64
	reconnectTimer *time.Timer
	reconnectStop  chan struct{}
	telemetry      Telemetry

	wg sync.WaitGroup
}

// New constructs a Runtime from cfg. It does not connect; call Connect.
func New(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Runtime{
		cfg:             cfg,
		engine:          engine.New(cfg.Reducer),
		log:             cfg.Logger,
		intents:         make(chan reduce.Intent, cfg.IntentQueueSize),
		done:            make(chan struct{}),
		stateStream:     newBroadcaster[reduce.SessionState](),
		outputStream:    newBroadcaster[reduce.Output](),
		telemetryStream: newBroadcaster[Telemetry](),
		writes:          newWriteTracker(),
	}
	r.stateStream.Publish(r.engine.State())
	r.telemetryStream.Publish(r.telemetry)
	r.wg.Add(1)
	go r.processLoop()
	return r
}

// State returns the most recently published session snapshot. Safe to
// call from any goroutine: it reads the mutex-protected replay slot on
// stateStream rather than the engine's processing-loop-confined field
// directly (spec §5 "snapshots are published into state streams").
func (r *Runtime) State() reduce.SessionState {
	st, ok := r.stateStream.Last()
	if !ok {
		return r.engine.State()
	}
	return st
}

// States, Outputs, and TelemetryStream each hand back a channel with its
// own small replay buffer plus an unsubscribe function (spec §5
// "broadcast output stream").
func (r *Runtime) States() (<-chan reduce.SessionState, func()) {
	return r.stateStream.Subscribe(r.bufOr(r.cfg.StateBuffer))
}

func (r *Runtime) Outputs() (<-chan reduce.Output, func()) {
	return r.outputStream.Subscribe(r.bufOr(r.cfg.OutputBuffer))
}

func (r *Runtime) TelemetryStream() (<-chan Telemetry, func()) {
	return r.telemetryStream.Subscribe(r.bufOr(r.cfg.TelemetryBuffer))
}

func (r *Runtime) bufOr(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (r *Runtime) enqueue(intent reduce.Intent) error {
	select {
	case <-r.done:
		return ErrShutdown
	default:
	}
	select {
	case r.intents <- intent:
		return nil
	case <-r.done:
		return ErrShutdown
	}
}

// Connect issues IntentConnect for url.
func (r *Runtime) Connect(url string) error {
	return r.enqueue(reduce.Intent{Kind: reduce.IntentConnect, URL: url})
}

// Disconnect issues IntentDisconnect.
func (r *Runtime) Disconnect(code *int, reason *string) error {
	return r.enqueue(reduce.Intent{Kind: reduce.IntentDisconnect, Code: code, Reason: reason})
}

// Subscribe issues IntentSubscribe for the caller-chosen subID.
func (r *Runtime) Subscribe(subID event.SubscriptionID, filters []event.Filter) error {
	return r.enqueue(reduce.Intent{Kind: reduce.IntentSubscribe, SubID: subID, Filters: filters})
}

// Unsubscribe issues IntentUnsubscribe.
func (r *Runtime) Unsubscribe(subID event.SubscriptionID) error {
	return r.enqueue(reduce.Intent{Kind: reduce.IntentUnsubscribe, SubID: subID})
}

// Publish issues IntentPublish and returns a handle resolving to the
// eventual WriteOutcome (spec §4.4).
func (r *Runtime) Publish(evt event.Event) (*PublishHandle, error) {
	pw := r.writes.register(string(evt.ID))
	if err := r.enqueue(reduce.Intent{Kind: reduce.IntentPublish, Event: evt}); err != nil {
		r.writes.forget(string(evt.ID))
		return nil, err
	}
	return &PublishHandle{ch: pw.done}, nil
}

// Authenticate issues IntentAuthenticate with a signed NIP-42 AUTH event.
func (r *Runtime) Authenticate(evt event.Event) error {
	return r.enqueue(reduce.Intent{Kind: reduce.IntentAuthenticate, Event: evt})
}

// Shutdown cancels the processing task, any connection task, and the
// reconnect timer, then closes the transport with code 1000 (spec §5).
// In-flight publish handles resolve to Failed.
func (r *Runtime) Shutdown() {
	r.closed.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// processLoop is the runtime's single background processing task (spec
// §4.4 "Processing loop").
func (r *Runtime) processLoop() {
	defer r.wg.Done()
	defer r.teardown()

	for {
		select {
		case <-r.done:
			return
		case intent := <-r.intents:
			r.step(intent)
		}
	}
}

func (r *Runtime) teardown() {
	r.cancelReconnectTimer()
	if r.attempt != nil {
		r.attempt.cancel()
		_ = r.attempt.adapter.Close(1000, "shutdown")
		r.attempt.adapter.Dispose()
		r.attempt = nil
		r.currentToken.Store(0)
	}
	r.writes.resolveAll(WriteFailed)
	r.stateStream.closeAll()
	r.outputStream.closeAll()
	r.telemetryStream.closeAll()
}

// step runs one iteration of the processing loop (spec §4.4 steps 2-6).
func (r *Runtime) step(intent reduce.Intent) {
	if intent.Kind == reduce.IntentConnect || intent.Kind == reduce.IntentDisconnect {
		r.cancelReconnectTimer()
	}
	if intent.Kind == reduce.IntentConnectionFailed {
		r.recordFailureTelemetry(intent)
	}

	state, cmds := r.engine.Dispatch(intent)
	r.stateStream.Publish(state)

	var pending []reduce.Output
	for _, cmd := range cmds {
		switch cmd.Kind {
		case reduce.CmdOpenConnection:
			r.openConnection(cmd.URL)
		case reduce.CmdCloseConnection:
			r.closeConnection(cmd.Code, cmd.Reason)
		case reduce.CmdSendToRelay:
			r.sendToRelay(cmd.Message)
		case reduce.CmdEmitOutput:
			pending = append(pending, cmd.Output)
		}
	}
	for _, out := range pending {
		r.outputStream.Publish(out)
	}

	r.refreshTelemetry()
	r.evaluateReconnect(intent, state)
}

func (r *Runtime) recordFailureTelemetry(intent reduce.Intent) {
	reason := intent.FailReason
	msg := intent.FailMessage
	r.telemetry.LastFailure = &reduce.EngineError{
		Kind:    reduce.ErrConnectionFailure,
		Reason:  reason,
		Message: msg,
		Cause:   intent.FailCause,
	}
	if intent.FailURL != nil {
		r.telemetry.LastFailure.URL = *intent.FailURL
	}
	r.log.Warn("connection failed", "reason", reason.String(), "message", msg)
}

func (r *Runtime) refreshTelemetry() {
	r.telemetry.UpdatedAt = time.Now()
	r.telemetryStream.Publish(r.telemetry)
}

// --- command execution --------------------------------------------------

func (r *Runtime) openConnection(url string) {
	if r.attempt != nil {
		r.attempt.cancel()
		r.attempt.adapter.Dispose()
		r.attempt = nil
	}
	r.attemptCounter++
	token := r.attemptCounter
	r.log.Info("opening connection", "url", url, "attempt", token)

	safeNotify(func() { r.cfg.Interceptor.OnConnectionOpening(url) })

	conn := r.cfg.Factory.New(url)
	adapter := transport.NewAdapter(conn, r.bufOr(r.cfg.InboundBufferSize))
	ctx, cancel := context.WithCancel(context.Background())
	r.attempt = &connAttempt{token: token, adapter: adapter, cancel: cancel}
	r.currentToken.Store(token)

	r.wg.Add(1)
	go r.runConnectionAttempt(ctx, token, url, adapter)
}

func (r *Runtime) closeConnection(code *int, reason *string) {
	if r.attempt == nil {
		return
	}
	c, rs := 1000, ""
	if code != nil {
		c = *code
	}
	if reason != nil {
		rs = *reason
	}
	if err := r.attempt.adapter.Close(c, rs); err != nil {
		r.attempt.cancel()
	}
}

// sendToRelay implements spec §4.4's CmdSendToRelay: encode via the
// configured codec, forward to the adapter with write confirmation, and
// for publish events resolve the corresponding PublishHandle once the
// write either lands or fails (or times out, per WriteConfirmTimeout).
func (r *Runtime) sendToRelay(msg protocol.ClientMessage) {
	isPublish := msg.Kind == protocol.ClientEvent
	eventID := string(msg.Event.ID)

	encoded, err := r.cfg.Codec.EncodeClientMessage(msg)
	if err != nil {
		if isPublish {
			r.writes.resolve(eventID, WriteFailed)
		}
		r.safeEnqueue(reduce.Intent{
			Kind:           reduce.IntentOutboundFailure,
			FailedCommand:  "SendToRelay",
			OutboundReason: err.Error(),
		})
		return
	}
	if r.attempt == nil {
		if isPublish {
			r.writes.resolve(eventID, WriteFailed)
		}
		r.safeEnqueue(reduce.Intent{
			Kind:           reduce.IntentOutboundFailure,
			FailedCommand:  "SendToRelay",
			OutboundReason: "no active connection",
		})
		return
	}

	adapter := r.attempt.adapter
	safeNotify(func() { r.cfg.Interceptor.OnSend(r.desiredURLOrEmpty(), encoded) })

	if isPublish {
		r.watchWriteTimeout(eventID)
	}
	adapter.SendWithConfirmation(encoded, func(ok bool, cause error) {
		if isPublish {
			if ok {
				r.writes.resolve(eventID, WriteSuccess)
			} else {
				r.writes.resolve(eventID, WriteFailed)
			}
		}
		if !ok {
			reason := "write failed"
			if cause != nil {
				reason = cause.Error()
			}
			r.safeEnqueue(reduce.Intent{
				Kind:           reduce.IntentOutboundFailure,
				FailedCommand:  "SendToRelay",
				OutboundReason: reason,
			})
		}
	})
}

func (r *Runtime) desiredURLOrEmpty() string {
	st := r.engine.State()
	if st.DesiredRelayURL != nil {
		return *st.DesiredRelayURL
	}
	return ""
}

// watchWriteTimeout resolves a publish's handle to WriteTimeout if no
// confirmation callback arrives within cfg.WriteConfirmTimeout; a later
// genuine resolution is a no-op since writeTracker.resolve deletes on
// first hit.
func (r *Runtime) watchWriteTimeout(eventID string) {
	if r.cfg.WriteConfirmTimeout <= 0 {
		return
	}
	time.AfterFunc(r.cfg.WriteConfirmTimeout, func() {
		r.writes.resolve(eventID, WriteTimeout)
	})
}

// --- connection attempt task --------------------------------------------

// runConnectionAttempt implements spec §4.4's "Connection attempt task".
func (r *Runtime) runConnectionAttempt(ctx context.Context, token uint64, url string, adapter *transport.Adapter) {
	defer r.wg.Done()
	defer adapter.Dispose()

	openCtx, openCancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	openErr := make(chan error, 1)
	go func() { openErr <- adapter.Open(openCtx) }()

	var err error
	select {
	case err = <-openErr:
	case <-openCtx.Done():
		if ctx.Err() != nil {
			openCancel()
			return
		}
		err = openCtx.Err()
	}
	openCancel()

	if err != nil {
		if r.staleAttempt(token) {
			return
		}
		msg := "handshake timeout"
		if !errors.Is(err, context.DeadlineExceeded) {
			msg = err.Error()
		}
		r.safeEnqueue(reduce.Intent{
			Kind:        reduce.IntentConnectionFailed,
			FailURL:     &url,
			FailReason:  reduce.ReasonOpenHandshake,
			FailMessage: msg,
			FailCause:   err,
		})
		return
	}

	if r.staleAttempt(token) {
		return
	}
	r.log.Info("connection established", "url", url)
	r.safeEnqueue(reduce.Intent{Kind: reduce.IntentConnectionEstablished, URL: url})
	safeNotify(func() { r.cfg.Interceptor.OnConnectionEstablished(url) })

	r.readConnectedPhase(ctx, token, url, adapter)
}

func (r *Runtime) readConnectedPhase(ctx context.Context, token uint64, url string, adapter *transport.Adapter) {
	var idle *time.Timer
	var idleCh <-chan time.Time
	if r.cfg.ReadTimeout > 0 {
		idle = time.NewTimer(r.cfg.ReadTimeout)
		idleCh = idle.C
		defer idle.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case term, ok := <-adapter.TerminalOutcome():
			if !ok {
				return
			}
			if r.staleAttempt(token) {
				return
			}
			if term.Failed {
				r.safeEnqueue(reduce.Intent{
					Kind:        reduce.IntentConnectionFailed,
					FailURL:     &url,
					FailReason:  reduce.ReasonStreamFailure,
					FailMessage: causeMessage(term.Cause),
					FailCause:   term.Cause,
				})
				return
			}
			code, reason := term.Code, term.Reason
			if code == 0 {
				code = 1000
			}
			if reason == "" {
				reason = "EOF"
			}
			safeNotify(func() { r.cfg.Interceptor.OnConnectionClosed(url, &code, &reason) })
			r.safeEnqueue(reduce.Intent{Kind: reduce.IntentConnectionClosed, ClosedCode: code, ClosedReason: reason})
			return
		case raw, ok := <-adapter.Inbound():
			if !ok {
				return
			}
			if idle != nil {
				if !idle.Stop() {
					<-idleCh
				}
				idle.Reset(r.cfg.ReadTimeout)
			}
			if r.staleAttempt(token) {
				return
			}
			safeNotify(func() { r.cfg.Interceptor.OnMessageReceived(url, raw) })
			frame := r.cfg.Codec.DecodeRelayMessage(raw)
			r.safeEnqueue(reduce.Intent{Kind: reduce.IntentRelayFrame, Frame: frame})
		case <-idleCh:
			if r.staleAttempt(token) {
				return
			}
			r.safeEnqueue(reduce.Intent{
				Kind:        reduce.IntentConnectionFailed,
				FailURL:     &url,
				FailReason:  reduce.ReasonStreamFailure,
				FailMessage: "idle timeout",
			})
			return
		}
	}
}

// staleAttempt is called from connection-attempt goroutines, outside the
// processing loop, so it must not touch r.attempt directly; currentToken
// is the one field in this struct safe to read concurrently (spec §4.4
// step 4).
func (r *Runtime) staleAttempt(token uint64) bool {
	return r.currentToken.Load() != token
}

// safeEnqueue is used from background tasks (connection attempt, reconnect
// timer); it must never block forever on a shut-down runtime.
func (r *Runtime) safeEnqueue(intent reduce.Intent) {
	select {
	case r.intents <- intent:
	case <-r.done:
	}
}

func causeMessage(err error) string {
	if err == nil {
		return "stream closed"
	}
	return err.Error()
}

// --- reconnection policy --------------------------------------------------

// evaluateReconnect implements spec §4.6's scheduling precondition.
func (r *Runtime) evaluateReconnect(intent reduce.Intent, state reduce.SessionState) {
	if intent.Kind != reduce.IntentConnectionFailed && intent.Kind != reduce.IntentConnectionClosed {
		return
	}
	if state.DesiredRelayURL == nil {
		return
	}
	if state.Connection.Kind == reduce.Connected || state.Connection.Kind == reduce.Connecting {
		return
	}
	if r.cfg.ReconnectPolicy == nil {
		return
	}

	r.telemetry.Attempt++
	delay, ok := r.cfg.ReconnectPolicy.NextDelay(r.telemetry.Attempt, r.telemetry.LastFailure)
	if !ok {
		r.telemetry.IsRetrying = false
		r.refreshTelemetry()
		return
	}
	r.telemetry.IsRetrying = true
	r.telemetry.LastReconnectDelay = delay
	r.refreshTelemetry()
	r.log.Info("scheduling reconnect", "attempt", r.telemetry.Attempt, "delay", delay)

	r.cancelReconnectTimer()
	stop := make(chan struct{})
	r.reconnectStop = stop
	url := *state.DesiredRelayURL
	r.reconnectTimer = time.AfterFunc(delay, func() {
		select {
		case <-stop:
			return
		default:
		}
		// Re-check the state the timer actually fires against (spec
		// §4.6 "the scheduled delay task, when it fires, re-checks the
		// state and enqueues Connect"): a Connect/Disconnect issued
		// since scheduling may have moved the snapshot to Connected or
		// Connecting without this timer having been cancelled yet.
		switch r.State().Connection.Kind {
		case reduce.Connected, reduce.Connecting:
			return
		}
		r.safeEnqueue(reduce.Intent{Kind: reduce.IntentConnect, URL: url})
	})
}

func (r *Runtime) cancelReconnectTimer() {
	if r.reconnectTimer != nil {
		r.reconnectTimer.Stop()
		r.reconnectTimer = nil
	}
	if r.reconnectStop != nil {
		close(r.reconnectStop)
		r.reconnectStop = nil
	}
}


