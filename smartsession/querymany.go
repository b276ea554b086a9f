package smartsession

import (
	"context"
	"sync"
	"time"

	"github.com/nostrcore/relaysession/event"
)

// QueryMany fans a single Query call out across multiple already-open
// Sessions concurrently and merges the results, deduplicating by event
// id (spec §12 supplement, generalizing the teacher's single-relay
// QuerySync). It is a one-shot helper over caller-owned sessions, not a
// persistent multi-relay client: it holds no state after returning.
func QueryMany(ctx context.Context, sessions []*Session, filters []event.Filter, timeout time.Duration, cfg EagerRetryConfig) RequestResult {
	results := make([]RequestResult, len(sessions))
	var wg sync.WaitGroup
	for i, sess := range sessions {
		wg.Add(1)
		go func(i int, sess *Session) {
			defer wg.Done()
			results[i] = sess.Query(ctx, filters, timeout, cfg)
		}(i, sess)
	}
	wg.Wait()

	seen := make(map[event.ID]struct{})
	var merged []event.Event
	kind := RequestSuccess
	var firstErr error
	for _, res := range results {
		switch res.Kind {
		case RequestConnectionFailed:
			kind = RequestConnectionFailed
			if firstErr == nil {
				firstErr = res.Err
			}
		case RequestTimeout:
			if kind == RequestSuccess {
				kind = RequestTimeout
			}
		}
		for _, ev := range res.Events {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev)
		}
	}
	return RequestResult{Kind: kind, Events: merged, Err: firstErr}
}
