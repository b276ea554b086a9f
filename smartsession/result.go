package smartsession

import (
	"time"

	"github.com/nostrcore/relaysession/event"
)

// RequestOutcomeKind tags the variant of a RequestResult.
type RequestOutcomeKind int

const (
	// RequestSuccess means a matching response arrived (request_one/
	// request_one_via) or collection ended cleanly at EOSE (query).
	RequestSuccess RequestOutcomeKind = iota
	// RequestTimeout means the deadline elapsed with no (or, for query,
	// no further) matching response. Events may still be populated.
	RequestTimeout
	// RequestConnectionFailed means the operation could not complete on
	// the link: await_connected failed, a Subscribe/Publish could not be
	// issued or its write confirmation failed, the subscription was
	// terminated by the relay or closed, or (for ExpectAndPublish) the
	// correlation id was already in use.
	RequestConnectionFailed
)

// RequestResult is returned by RequestOne, RequestOneVia, and Query.
type RequestResult struct {
	Kind RequestOutcomeKind

	// Populated on RequestSuccess for RequestOne/RequestOneVia.
	Event *event.Event

	// Populated for Query: every matching event collected before the
	// terminal condition, oldest first.
	Events []event.Event

	// Elapsed is how long runEager spent before settling on this result
	// (spec §7 "RequestResult::{Success, Timeout(elapsed), ...}").
	Elapsed time.Duration

	// Attempts is how many rounds runEager ran before settling on this
	// result, including the final one (spec §7
	// "ConnectionFailed(attempts, last_error?)"). Always >= 1.
	Attempts int

	// Err carries the underlying cause for RequestConnectionFailed (the
	// spec's "last_error?").
	Err error
}
