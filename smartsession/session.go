package smartsession

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nostrcore/relaysession/event"
	"github.com/nostrcore/relaysession/reduce"
	"github.com/nostrcore/relaysession/runtime"
)

// Session wraps a Runtime for one fixed relay URL and layers the eager
// request/response operations from spec §4.5 on top of it. It owns no
// state of its own beyond the URL — everything observable still lives in
// the wrapped Runtime.
type Session struct {
	rt  *runtime.Runtime
	url string
}

// NewSession wraps rt, which must already be configured to connect to url
// (rt itself is transport-agnostic; url is only used here to drive
// Connect calls during eager retries).
func NewSession(rt *runtime.Runtime, url string) *Session {
	return &Session{rt: rt, url: url}
}

// Runtime returns the underlying Runtime, for callers that also want the
// low-level Subscribe/Publish/state-stream API directly.
func (s *Session) Runtime() *runtime.Runtime { return s.rt }

// awaitConnected implements spec §4.5 step 2: return immediately if
// already Connected, wait out a Connecting attempt, or issue Connect and
// wait, all bounded by timeout.
func (s *Session) awaitConnected(ctx context.Context, timeout time.Duration) error {
	snap := s.rt.State().Connection
	switch snap.Kind {
	case reduce.Connected:
		return nil
	case reduce.Connecting:
		// fall through to wait below
	default:
		if err := s.rt.Connect(s.url); err != nil {
			return err
		}
	}

	states, unsub := s.rt.States()
	defer unsub()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return fmt.Errorf("smartsession: runtime shut down while connecting")
			}
			switch st.Connection.Kind {
			case reduce.Connected:
				return nil
			case reduce.Failed:
				return fmt.Errorf("smartsession: connect failed: %s", st.Connection.Message)
			}
		case <-timer.C:
			return context.DeadlineExceeded
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runEager drives the shared retry structure spec §4.5 describes for all
// three eager operations: budget check, await_connected, one round, and
// on a Timeout outcome a possible forced reconnect once consecutive
// timeouts cross StaleTimeoutThreshold.
func (s *Session) runEager(ctx context.Context, timeout time.Duration, cfg EagerRetryConfig, round func(context.Context, time.Duration) RequestResult) RequestResult {
	overallStart := time.Now()
	remaining := timeout
	consecutiveTimeouts := 0

	finish := func(res RequestResult, attempt int) RequestResult {
		res.Elapsed = time.Since(overallStart)
		res.Attempts = attempt + 1
		return res
	}

	for attempt := 0; ; attempt++ {
		if remaining <= 0 {
			return finish(RequestResult{Kind: RequestTimeout}, attempt)
		}

		connectBudget := remaining
		if cfg.EagerConnectTimeout > 0 && cfg.EagerConnectTimeout < connectBudget {
			connectBudget = cfg.EagerConnectTimeout
		}
		start := time.Now()
		if err := s.awaitConnected(ctx, connectBudget); err != nil {
			return finish(RequestResult{Kind: RequestConnectionFailed, Err: err}, attempt)
		}
		remaining -= time.Since(start)
		if remaining <= 0 {
			return finish(RequestResult{Kind: RequestTimeout}, attempt)
		}

		roundStart := time.Now()
		res := round(ctx, remaining)
		remaining -= time.Since(roundStart)

		if res.Kind != RequestTimeout {
			return finish(res, attempt)
		}

		consecutiveTimeouts++
		if attempt+1 >= cfg.MaxRetries+1 || remaining < cfg.MinRetryBudget {
			return finish(res, attempt)
		}
		if consecutiveTimeouts >= cfg.StaleTimeoutThreshold {
			if s.rt.State().Connection.Kind == reduce.Connected {
				_ = s.rt.Disconnect(nil, nil)
				const settleDelay = 50 * time.Millisecond
				time.Sleep(settleDelay)
				remaining -= settleDelay
				_ = s.rt.Connect(s.url)
			}
			consecutiveTimeouts = 0
		}
	}
}

// RequestOne publishes evt, collects Event outputs on a fresh ephemeral
// subscription matching responseFilter, and completes on the first
// response whose "e" tag equals correlationID (spec §4.5).
func (s *Session) RequestOne(ctx context.Context, evt event.Event, responseFilter event.Filter, correlationID string, timeout time.Duration, cfg EagerRetryConfig) RequestResult {
	if correlationID == "" {
		correlationID = string(evt.ID)
	}
	return s.runEager(ctx, timeout, cfg, func(ctx context.Context, remaining time.Duration) RequestResult {
		return s.requestOneRound(ctx, evt, responseFilter, correlationID, remaining)
	})
}

func (s *Session) requestOneRound(ctx context.Context, evt event.Event, responseFilter event.Filter, correlationID string, remaining time.Duration) RequestResult {
	subID := event.SubscriptionID(uuid.NewString())
	outputs, unsub := s.rt.Outputs()

	resultCh := make(chan event.Event, 1)
	watchDone := make(chan struct{})
	// Start collecting before Subscribe is even issued, per spec §4.5
	// step 3, so a fast relay's response can never beat registration.
	go func() {
		defer close(watchDone)
		for out := range outputs {
			if out.Kind != reduce.OutEventReceived || out.SubID != subID {
				continue
			}
			if v, ok := out.Event.FirstTagValue("e"); ok && v == correlationID {
				select {
				case resultCh <- out.Event:
				default:
				}
			}
		}
	}()
	defer func() {
		_ = s.rt.Unsubscribe(subID)
		unsub()
		<-watchDone
	}()

	if err := s.rt.Subscribe(subID, []event.Filter{responseFilter}); err != nil {
		return RequestResult{Kind: RequestConnectionFailed, Err: err}
	}
	if _, err := s.rt.Publish(evt); err != nil {
		return RequestResult{Kind: RequestConnectionFailed, Err: err}
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case ev := <-resultCh:
		return RequestResult{Kind: RequestSuccess, Event: &ev}
	case <-timer.C:
		return RequestResult{Kind: RequestTimeout}
	case <-ctx.Done():
		return RequestResult{Kind: RequestTimeout}
	}
}

// RequestOneVia routes the publish/await-response round trip through a
// preexisting SharedSubscription instead of opening a fresh ephemeral
// one (spec §4.5 "request_one_via").
func (s *Session) RequestOneVia(ctx context.Context, shared *SharedSubscription, evt event.Event, correlationID string, timeout time.Duration, cfg EagerRetryConfig) RequestResult {
	if correlationID == "" {
		correlationID = string(evt.ID)
	}
	return s.runEager(ctx, timeout, cfg, func(ctx context.Context, remaining time.Duration) RequestResult {
		publishFn := func() error {
			handle, err := s.rt.Publish(evt)
			if err != nil {
				return err
			}
			if cfg.WriteTimeout <= 0 {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
			defer cancel()
			outcome, err := handle.Wait(wctx)
			if err != nil {
				return err
			}
			if outcome != runtime.WriteSuccess {
				return fmt.Errorf("smartsession: publish write %s", outcome)
			}
			return nil
		}
		return shared.ExpectAndPublish(ctx, correlationID, publishFn, remaining)
	})
}

// Query subscribes to filters and collects every matching event until
// EndOfStoredEvents, SubscriptionTerminated, or timeout (spec §4.5
// "query").
func (s *Session) Query(ctx context.Context, filters []event.Filter, timeout time.Duration, cfg EagerRetryConfig) RequestResult {
	return s.runEager(ctx, timeout, cfg, func(ctx context.Context, remaining time.Duration) RequestResult {
		return s.queryRound(ctx, filters, remaining)
	})
}

func (s *Session) queryRound(ctx context.Context, filters []event.Filter, remaining time.Duration) RequestResult {
	subID := event.SubscriptionID(uuid.NewString())
	outputs, unsub := s.rt.Outputs()
	defer func() {
		_ = s.rt.Unsubscribe(subID)
		unsub()
	}()

	if err := s.rt.Subscribe(subID, filters); err != nil {
		return RequestResult{Kind: RequestConnectionFailed, Err: err}
	}

	var collected []event.Event
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	for {
		select {
		case out, ok := <-outputs:
			if !ok {
				return RequestResult{Kind: RequestTimeout, Events: collected}
			}
			switch out.Kind {
			case reduce.OutEventReceived:
				if out.SubID == subID {
					collected = append(collected, out.Event)
				}
			case reduce.OutEndOfStoredEvents:
				if out.SubID == subID {
					return RequestResult{Kind: RequestSuccess, Events: collected}
				}
			case reduce.OutSubscriptionTerminated:
				if out.SubID == subID {
					return RequestResult{Kind: RequestConnectionFailed, Events: collected, Err: fmt.Errorf("smartsession: subscription terminated")}
				}
			}
		case <-timer.C:
			return RequestResult{Kind: RequestTimeout, Events: collected}
		case <-ctx.Done():
			return RequestResult{Kind: RequestTimeout, Events: collected}
		}
	}
}
