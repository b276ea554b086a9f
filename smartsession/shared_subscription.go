package smartsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	syncmap "github.com/SaveTheRbtz/generic-sync-map-go"

	"github.com/nostrcore/relaysession/event"
	"github.com/nostrcore/relaysession/reduce"
	"github.com/nostrcore/relaysession/runtime"
)

// ErrDuplicateCorrelationID is returned by ExpectAndPublish when a waiter
// is already registered for the given correlation id.
var ErrDuplicateCorrelationID = errors.New("smartsession: duplicate correlation id")

type waiter struct {
	ch chan event.Event
}

// SharedSubscription multiplexes request/response traffic over one
// persistent REQ instead of opening an ephemeral subscription per call
// (spec §4.5 "SharedSubscription"). It mirrors the teacher's
// subscriptions/okCallbacks correlation maps (bumi-go-nostr/relay.go,
// using github.com/SaveTheRbtz/generic-sync-map-go) generalized from a
// per-relay singleton into a per-subscription, caller-owned object.
type SharedSubscription struct {
	rt      *runtime.Runtime
	subID   event.SubscriptionID
	filters []event.Filter

	waiters syncmap.MapOf[string, *waiter]

	unsubEvents    func()
	unsubLifecycle func()

	rejectedCh   chan struct{}
	rejectedErr  error
	rejectedOnce sync.Once
}

// NewSharedSubscription issues Subscribe(subID, filters) and starts two
// worker tasks: one completing waiters from EventReceived outputs, one
// watching SubscriptionTerminated to reject pending waiters.
// SubscriptionRegistered is not tracked, so there is no readiness signal:
// ExpectAndPublish may be called as soon as this returns.
func NewSharedSubscription(rt *runtime.Runtime, subID event.SubscriptionID, filters []event.Filter) (*SharedSubscription, error) {
	ss := &SharedSubscription{
		rt:         rt,
		subID:      subID,
		filters:    filters,
		rejectedCh: make(chan struct{}),
	}

	eventsCh, unsubEvents := rt.Outputs()
	lifecycleCh, unsubLifecycle := rt.Outputs()
	ss.unsubEvents = unsubEvents
	ss.unsubLifecycle = unsubLifecycle

	go ss.watchEvents(eventsCh)
	go ss.watchLifecycle(lifecycleCh)

	if err := rt.Subscribe(subID, filters); err != nil {
		ss.Close()
		return nil, err
	}
	return ss, nil
}

func (ss *SharedSubscription) watchEvents(outputs <-chan reduce.Output) {
	for out := range outputs {
		if out.Kind != reduce.OutEventReceived || out.SubID != ss.subID {
			continue
		}
		corr, ok := out.Event.FirstTagValue("e")
		if !ok {
			continue
		}
		if w, ok := ss.waiters.LoadAndDelete(corr); ok {
			select {
			case w.ch <- out.Event:
			default:
			}
		}
	}
}

func (ss *SharedSubscription) watchLifecycle(outputs <-chan reduce.Output) {
	for out := range outputs {
		if out.SubID != ss.subID {
			continue
		}
		if out.Kind == reduce.OutSubscriptionTerminated {
			ss.rejectedOnce.Do(func() {
				ss.rejectedErr = fmt.Errorf("smartsession: shared subscription %s terminated", ss.subID)
				close(ss.rejectedCh)
			})
		}
	}
}

// ExpectAndPublish registers a waiter for correlationID, then calls
// publishFn; the waiter is registered strictly before publishFn runs so a
// fast relay response can never arrive unobserved (spec §4.5). Duplicate
// correlation ids are rejected outright.
func (ss *SharedSubscription) ExpectAndPublish(ctx context.Context, correlationID string, publishFn func() error, timeout time.Duration) RequestResult {
	w := &waiter{ch: make(chan event.Event, 1)}
	if _, loaded := ss.waiters.LoadOrStore(correlationID, w); loaded {
		return RequestResult{Kind: RequestConnectionFailed, Err: fmt.Errorf("%w: %s", ErrDuplicateCorrelationID, correlationID)}
	}
	defer ss.waiters.Delete(correlationID)

	if err := publishFn(); err != nil {
		return RequestResult{Kind: RequestConnectionFailed, Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-w.ch:
		return RequestResult{Kind: RequestSuccess, Event: &ev}
	case <-timer.C:
		return RequestResult{Kind: RequestTimeout}
	case <-ctx.Done():
		return RequestResult{Kind: RequestTimeout}
	case <-ss.rejectedCh:
		return RequestResult{Kind: RequestConnectionFailed, Err: ss.rejectedErr}
	}
}

// Close cancels all pending waiters, stops both worker tasks, and
// unsubscribes (spec §4.5 "close() cancels all waiters, cancels workers,
// unsubscribes"). Any ExpectAndPublish call still blocked in its select
// wakes immediately via rejectedCh instead of riding out its own
// timeout/ctx.
func (ss *SharedSubscription) Close() error {
	ss.rejectedOnce.Do(func() {
		ss.rejectedErr = fmt.Errorf("smartsession: shared subscription %s closed", ss.subID)
		close(ss.rejectedCh)
	})
	err := ss.rt.Unsubscribe(ss.subID)
	ss.unsubEvents()
	ss.unsubLifecycle()
	return err
}
