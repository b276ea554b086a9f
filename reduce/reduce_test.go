package reduce

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrcore/relaysession/event"
	"github.com/nostrcore/relaysession/protocol"
)

func id(b byte) event.ID {
	return event.ID(strings.Repeat(string(rune(b)), 64))
}

func validEvent(evID event.ID) event.Event {
	return event.Event{
		ID:        evID,
		PubKey:    event.Pubkey(strings.Repeat("b", 64)),
		CreatedAt: 1700000000,
		Kind:      1,
		Content:   "hi",
		Sig:       strings.Repeat("d", 128),
	}
}

// --- scenario 1: connect then subscribe -------------------------------------

func TestScenarioConnectThenSubscribe(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()

	state, cmds := Reduce(state, Intent{Kind: IntentConnect, URL: "wss://r"}, cfg)
	require.Len(t, cmds, 2)
	assert.Equal(t, CmdOpenConnection, cmds[0].Kind)
	assert.Equal(t, "wss://r", cmds[0].URL)
	assert.Equal(t, CmdEmitOutput, cmds[1].Kind)
	assert.Equal(t, OutConnectionStateChanged, cmds[1].Output.Kind)
	assert.Equal(t, Connecting, cmds[1].Output.Snapshot.Kind)

	filters := []event.Filter{{Kinds: []int{1}}}
	state, cmds = Reduce(state, Intent{Kind: IntentSubscribe, SubID: "s", Filters: filters}, cfg)
	require.Len(t, cmds, 1)
	assert.Equal(t, OutSubscriptionRegistered, cmds[0].Output.Kind)
	assert.Equal(t, event.SubscriptionID("s"), cmds[0].Output.SubID)
	assert.Equal(t, SubPending, state.Subscriptions["s"].Status, "not connected yet")

	state, cmds = Reduce(state, Intent{Kind: IntentConnectionEstablished, URL: "wss://r"}, cfg)
	require.Len(t, cmds, 2)
	assert.Equal(t, CmdSendToRelay, cmds[0].Kind)
	assert.Equal(t, protocol.ClientReq, cmds[0].Message.Kind)
	assert.Equal(t, event.SubscriptionID("s"), cmds[0].Message.SubID)
	assert.Equal(t, filters, cmds[0].Message.Filters)
	assert.Equal(t, OutConnectionStateChanged, cmds[1].Output.Kind)
	assert.Equal(t, Connected, cmds[1].Output.Snapshot.Kind)

	assert.Equal(t, SubActive, state.Subscriptions["s"].Status)
}

// --- scenario 2: publish while disconnected, then connect -------------------

func TestScenarioPublishWhileDisconnectedThenConnect(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	ev := validEvent(id('9'))

	state, cmds := Reduce(state, Intent{Kind: IntentPublish, Event: ev}, cfg)
	assert.Empty(t, cmds)
	assert.Equal(t, []event.Event{ev}, state.PendingPublishes)
	status, ok := state.PublishStatuses.Get(ev.ID)
	require.True(t, ok)
	assert.Equal(t, PublishPending, status.Kind)

	state, cmds = Reduce(state, Intent{Kind: IntentConnectionEstablished, URL: "wss://r"}, cfg)
	require.Len(t, cmds, 2)
	assert.Equal(t, CmdSendToRelay, cmds[0].Kind)
	assert.Equal(t, protocol.ClientEvent, cmds[0].Message.Kind)
	assert.Equal(t, ev, cmds[0].Message.Event)
	assert.Empty(t, state.PendingPublishes)
}

// --- scenario 3: duplicate event suppression --------------------------------

func TestScenarioDuplicateEventSuppression(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEventReplayIDs = 3

	state := NewSessionState()
	state.Subscriptions["sub"] = SubscriptionState{ID: "sub", Status: SubActive}

	ids := []event.ID{id('0'), id('1'), id('2'), id('3'), id('4')}
	for _, evID := range ids {
		var cmds []Command
		state, cmds = Reduce(state, Intent{
			Kind:  IntentRelayFrame,
			Frame: protocol.RelayMessage{Kind: protocol.RelayEvent, SubID: "sub", Event: validEvent(evID)},
		}, cfg)
		require.Len(t, cmds, 1)
		assert.Equal(t, OutEventReceived, cmds[0].Output.Kind)
		assert.Equal(t, evID, cmds[0].Output.Event.ID)
	}

	state, cmds := Reduce(state, Intent{
		Kind:  IntentRelayFrame,
		Frame: protocol.RelayMessage{Kind: protocol.RelayEvent, SubID: "sub", Event: validEvent(id('4'))},
	}, cfg)
	assert.Empty(t, cmds, "re-feeding a recently seen id produces no commands")
	assert.Equal(t, []event.ID{id('2'), id('3'), id('4')}, state.Subscriptions["sub"].ReceivedEventIDs)
}

// --- scenario 4: canonical id verification ----------------------------------

type fakeHasher struct {
	id  event.ID
	err error
}

func (f fakeHasher) CanonicalID(event.Event) (event.ID, error) { return f.id, f.err }

func TestScenarioCanonicalIDVerificationMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifyEventIDs = true
	cfg.Hasher = fakeHasher{id: id('0')} // never matches ff*32

	state := NewSessionState()
	state.Subscriptions["sub"] = SubscriptionState{ID: "sub", Status: SubActive}
	before := state.Subscriptions["sub"]

	evID := id('f')
	next, cmds := Reduce(state, Intent{
		Kind:  IntentRelayFrame,
		Frame: protocol.RelayMessage{Kind: protocol.RelayEvent, SubID: "sub", Event: validEvent(evID)},
	}, cfg)

	require.Len(t, cmds, 1)
	assert.Equal(t, OutError, cmds[0].Output.Kind)
	assert.Equal(t, ErrProtocolViolation, cmds[0].Output.Err.Kind)
	assert.Equal(t, before, next.Subscriptions["sub"], "subscription state unchanged")
}

// --- scenario 5: closed subscription survives reconnect ---------------------

func TestScenarioClosedSubscriptionSurvivesReconnect(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	closed := SubscriptionState{ID: "s", Status: SubClosed, ReceivedEventIDs: []event.ID{id('1')}}
	state.Subscriptions["s"] = closed

	next, cmds := Reduce(state, Intent{Kind: IntentConnectionEstablished, URL: "wss://r"}, cfg)

	for _, c := range cmds {
		if c.Kind == CmdSendToRelay {
			assert.NotEqual(t, event.SubscriptionID("s"), c.Message.SubID, "no Req for a closed subscription")
		}
	}
	assert.Equal(t, closed, next.Subscriptions["s"])
}

// --- scenario 6: OK with code prefix -----------------------------------------

func TestScenarioOKWithCodePrefix(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	c := protocol.NewJSONCodec()

	msg := c.DecodeRelayMessage(`["OK","ABC",true,"duplicate: already have this event"]`)
	require.Equal(t, protocol.RelayOK, msg.Kind)

	next, cmds := Reduce(state, Intent{Kind: IntentRelayFrame, Frame: msg}, cfg)

	require.Len(t, cmds, 1)
	require.Equal(t, OutPublishAcknowledged, cmds[0].Output.Kind)
	result := cmds[0].Output.Result
	assert.Equal(t, event.ID("ABC"), result.EventID)
	assert.True(t, result.Accepted)
	assert.Equal(t, "duplicate", result.Code)
	assert.Equal(t, "already have this event", result.Message)

	status, ok := next.PublishStatuses.Get("ABC")
	require.True(t, ok)
	assert.Equal(t, PublishAcknowledged, status.Kind)
}

// --- universally quantified invariants ---------------------------------------

func TestReduceIsPureAndDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	state.Subscriptions["s"] = SubscriptionState{ID: "s", Status: SubActive}
	intent := Intent{Kind: IntentSubscribe, SubID: "s2", Filters: []event.Filter{{Kinds: []int{1}}}}

	s1, c1 := Reduce(state, intent, cfg)
	s2, c2 := Reduce(state, intent, cfg)

	assert.Equal(t, s1, s2)
	assert.Equal(t, c1, c2)
	// original state untouched
	assert.Equal(t, SubActive, state.Subscriptions["s"].Status)
	_, hadS2 := state.Subscriptions["s2"]
	assert.False(t, hadS2)
}

func TestReduceNeverPanicsOnUnknownIntentKind(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	assert.NotPanics(t, func() {
		next, cmds := Reduce(state, Intent{Kind: IntentKind(9999)}, cfg)
		assert.Equal(t, state, next)
		assert.Nil(t, cmds)
	})
}

func TestEventReceivedForUnknownSubscriptionIsProtocolViolation(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()

	_, cmds := Reduce(state, Intent{
		Kind:  IntentRelayFrame,
		Frame: protocol.RelayMessage{Kind: protocol.RelayEvent, SubID: "ghost", Event: validEvent(id('1'))},
	}, cfg)

	require.Len(t, cmds, 1)
	assert.Equal(t, OutError, cmds[0].Output.Kind)
	assert.Equal(t, ErrProtocolViolation, cmds[0].Output.Err.Kind)
}

func TestClosingSubscriptionEmitsExactlyOneCloseOnReconnect(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	state.Subscriptions["s"] = SubscriptionState{
		ID: "s", Status: SubClosing, ReceivedEventIDs: []event.ID{id('1')},
	}

	next, cmds := Reduce(state, Intent{Kind: IntentConnectionEstablished, URL: "wss://r"}, cfg)

	var closes int
	for _, c := range cmds {
		if c.Kind == CmdSendToRelay && c.Message.Kind == protocol.ClientClose && c.Message.SubID == "s" {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
	assert.Equal(t, SubClosing, next.Subscriptions["s"].Status)
	assert.Equal(t, []event.ID{id('1')}, next.Subscriptions["s"].ReceivedEventIDs)
}

func TestPublishStatusesBoundedByMaxPublishStatuses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPublishStatuses = 2
	state := NewSessionState()

	for _, evID := range []event.ID{id('0'), id('1'), id('2')} {
		state, _ = Reduce(state, Intent{Kind: IntentPublish, Event: validEvent(evID)}, cfg)
	}

	assert.LessOrEqual(t, state.PublishStatuses.Len(), cfg.MaxPublishStatuses)
	_, hasOldest := state.PublishStatuses.Get(id('0'))
	assert.False(t, hasOldest)
}

func TestWriteOutcomeTaxonomyNotConflatedHere(t *testing.T) {
	// Reduce has no notion of write-confirmation; PublishAcknowledged is the
	// relay's own OK response, a distinct concept from the runtime's
	// transport-level write outcome.
	cfg := DefaultConfig()
	state := NewSessionState()
	ev := validEvent(id('5'))

	state, cmds := Reduce(state, Intent{Kind: IntentPublish, Event: ev}, cfg)
	assert.Empty(t, cmds)
	status, ok := state.PublishStatuses.Get(ev.ID)
	require.True(t, ok)
	assert.Equal(t, PublishPending, status.Kind)
}

// --- round-trip / idempotence laws -------------------------------------------

func TestMalformedFrameProducesExactlyOneProtocolViolationIdempotently(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	c := protocol.NewJSONCodec()

	msg := c.DecodeRelayMessage(`not json`)
	require.Equal(t, protocol.RelayUnknown, msg.Kind)

	next1, cmds1 := Reduce(state, Intent{Kind: IntentRelayFrame, Frame: msg}, cfg)
	require.Len(t, cmds1, 1)
	assert.Equal(t, ErrProtocolViolation, cmds1[0].Output.Err.Kind)
	assert.Equal(t, state, next1)

	next2, cmds2 := Reduce(next1, Intent{Kind: IntentRelayFrame, Frame: msg}, cfg)
	assert.Equal(t, cmds1, cmds2)
	assert.Equal(t, next1, next2)
}

func TestTwoConsecutiveSubscribesResetDedupe(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	filters := []event.Filter{{Kinds: []int{1}}}

	state, _ = Reduce(state, Intent{Kind: IntentSubscribe, SubID: "s", Filters: filters}, cfg)
	state, _ = Reduce(state, Intent{
		Kind:  IntentRelayFrame,
		Frame: protocol.RelayMessage{Kind: protocol.RelayEvent, SubID: "s", Event: validEvent(id('1'))},
	}, cfg)
	require.Len(t, state.Subscriptions["s"].ReceivedEventIDs, 1)

	state, _ = Reduce(state, Intent{Kind: IntentSubscribe, SubID: "s", Filters: filters}, cfg)

	assert.Empty(t, state.Subscriptions["s"].ReceivedEventIDs)
	assert.Equal(t, filters, state.Subscriptions["s"].Filters)
}

// --- boundary behavior --------------------------------------------------------

func TestMaxEventReplayIDsZeroDisablesDedupe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEventReplayIDs = 0
	state := NewSessionState()
	state.Subscriptions["s"] = SubscriptionState{ID: "s", Status: SubActive}

	for i := 0; i < 2; i++ {
		var cmds []Command
		state, cmds = Reduce(state, Intent{
			Kind:  IntentRelayFrame,
			Frame: protocol.RelayMessage{Kind: protocol.RelayEvent, SubID: "s", Event: validEvent(id('7'))},
		}, cfg)
		require.Len(t, cmds, 1, "dedupe disabled: every feed is treated as new")
		assert.Equal(t, OutEventReceived, cmds[0].Output.Kind)
	}
	assert.Empty(t, state.Subscriptions["s"].ReceivedEventIDs)
}

func TestMaxEventReplayIDsOneKeepsOnlyLatest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEventReplayIDs = 1
	state := NewSessionState()
	state.Subscriptions["s"] = SubscriptionState{ID: "s", Status: SubActive}

	state, _ = Reduce(state, Intent{
		Kind:  IntentRelayFrame,
		Frame: protocol.RelayMessage{Kind: protocol.RelayEvent, SubID: "s", Event: validEvent(id('1'))},
	}, cfg)
	state, _ = Reduce(state, Intent{
		Kind:  IntentRelayFrame,
		Frame: protocol.RelayMessage{Kind: protocol.RelayEvent, SubID: "s", Event: validEvent(id('2'))},
	}, cfg)

	assert.Equal(t, []event.ID{id('2')}, state.Subscriptions["s"].ReceivedEventIDs)
}

func TestOutboundFailureRecordsLastError(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()

	next, cmds := Reduce(state, Intent{Kind: IntentOutboundFailure, OutboundReason: "socket write failed"}, cfg)

	require.Len(t, cmds, 1)
	assert.Equal(t, OutError, cmds[0].Output.Kind)
	require.NotNil(t, next.LastError)
	assert.Equal(t, ErrOutboundFailure, next.LastError.Kind)
}

func TestConnectionFailedCarriesCause(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	cause := errors.New("dial tcp: refused")

	next, cmds := Reduce(state, Intent{
		Kind:        IntentConnectionFailed,
		FailURL:     strPtr("wss://r"),
		FailReason:  ReasonOpenHandshake,
		FailMessage: "handshake timed out",
		FailCause:   cause,
	}, cfg)

	require.Len(t, cmds, 1)
	assert.Equal(t, OutError, cmds[0].Output.Kind)
	assert.Equal(t, cause, cmds[0].Output.Err.Cause)
	assert.Equal(t, Failed, next.Connection.Kind)
	assert.Equal(t, cause, next.Connection.Cause)
}

func TestAuthChallengeThenAuthenticateRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	state.Connection = ConnectionSnapshot{Kind: Connected, URL: "wss://r"}

	state, cmds := Reduce(state, Intent{
		Kind:  IntentRelayFrame,
		Frame: protocol.RelayMessage{Kind: protocol.RelayAuthChallenge, Challenge: "chal123"},
	}, cfg)
	require.Len(t, cmds, 1)
	assert.Equal(t, OutAuthChallenge, cmds[0].Output.Kind)
	require.NotNil(t, state.Auth.Challenge)
	assert.Equal(t, "chal123", *state.Auth.Challenge)

	authEv := validEvent(id('a'))
	authEv.Tags = [][]string{{"challenge", "chal123"}}
	state, cmds = Reduce(state, Intent{Kind: IntentAuthenticate, Event: authEv}, cfg)
	require.Len(t, cmds, 1)
	assert.Equal(t, CmdSendToRelay, cmds[0].Kind)
	assert.Equal(t, protocol.ClientAuth, cmds[0].Message.Kind)
	require.NotNil(t, state.Auth.LatestAttempt)
	assert.Equal(t, "chal123", state.Auth.LatestAttempt.Challenge)

	okMsg := protocol.RelayMessage{Kind: protocol.RelayOK, Result: event.PublishResult{EventID: authEv.ID, Accepted: true}}
	state, _ = Reduce(state, Intent{Kind: IntentRelayFrame, Frame: okMsg}, cfg)
	require.NotNil(t, state.Auth.LatestAttempt.Accepted)
	assert.True(t, *state.Auth.LatestAttempt.Accepted)
}

func TestAuthenticateWhileDisconnectedFails(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()

	_, cmds := Reduce(state, Intent{Kind: IntentAuthenticate, Event: validEvent(id('a'))}, cfg)

	require.Len(t, cmds, 1)
	assert.Equal(t, OutError, cmds[0].Output.Kind)
	assert.Equal(t, ErrOutboundFailure, cmds[0].Output.Err.Kind)
}

func TestDisconnectWhileConnectedClearsDesiredRelayURL(t *testing.T) {
	cfg := DefaultConfig()
	state := NewSessionState()
	state.DesiredRelayURL = strPtr("wss://r")
	state.Connection = ConnectionSnapshot{Kind: Connected, URL: "wss://r"}

	state, cmds := Reduce(state, Intent{Kind: IntentDisconnect}, cfg)

	require.Len(t, cmds, 2)
	assert.Equal(t, CmdCloseConnection, cmds[0].Kind)
	assert.Equal(t, Disconnecting, state.Connection.Kind)
	assert.Nil(t, state.DesiredRelayURL, "an explicit Disconnect must clear the desired url even while the close is still in flight")
}
