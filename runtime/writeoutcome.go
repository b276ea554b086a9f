package runtime

import (
	syncmap "github.com/SaveTheRbtz/generic-sync-map-go"
)

// WriteOutcome is the result of a confirmed write to the wire, used to
// distinguish a genuinely failed send from a half-open connection that
// never reports failure (spec §4.3, §6.3).
type WriteOutcome int

const (
	WriteSuccess WriteOutcome = iota
	WriteTimeout
	WriteFailed
)

func (w WriteOutcome) String() string {
	switch w {
	case WriteSuccess:
		return "success"
	case WriteTimeout:
		return "timeout"
	case WriteFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// pendingWrite tracks one in-flight publish write, keyed by the event id,
// so the write-confirmation callback or the write-timeout timer can
// resolve it without blocking the processing loop.
type pendingWrite struct {
	done chan WriteOutcome
}

// writeTracker is a concurrent map from event id to pendingWrite. It's
// genuinely concurrent because SendWithConfirmation's callback fires from
// the transport's writer goroutine and the write-timeout fires from a
// timer goroutine, while Publish and the processing loop register and
// resolve entries from their own (mirrors the concurrent correlation-id
// maps in smartsession.SharedSubscription).
type writeTracker struct {
	m syncmap.MapOf[string, *pendingWrite]
}

func newWriteTracker() *writeTracker {
	return &writeTracker{}
}

func (t *writeTracker) register(token string) *pendingWrite {
	pw := &pendingWrite{done: make(chan WriteOutcome, 1)}
	t.m.Store(token, pw)
	return pw
}

func (t *writeTracker) resolve(token string, outcome WriteOutcome) {
	if pw, ok := t.m.LoadAndDelete(token); ok {
		pw.done <- outcome
	}
}

func (t *writeTracker) forget(token string) {
	t.m.Delete(token)
}

// resolveAll resolves every still-pending write to outcome; used on
// shutdown, per spec §5 "In-flight publish handles resolve to Failed".
func (t *writeTracker) resolveAll(outcome WriteOutcome) {
	var tokens []string
	t.m.Range(func(token string, _ *pendingWrite) bool {
		tokens = append(tokens, token)
		return true
	})
	for _, token := range tokens {
		t.resolve(token, outcome)
	}
}
