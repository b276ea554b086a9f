package reduce

import (
	"sort"

	"golang.org/x/exp/maps"

	"github.com/nostrcore/relaysession/event"
	"github.com/nostrcore/relaysession/protocol"
)

func sortSubIDs(ids []event.SubscriptionID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Reduce is the reducer's entire contract (spec §4.1): a pure function
// from (state, intent) to (state', commands). It never performs I/O,
// never panics on unexpected input, and is deterministic for a given
// (state, intent, cfg).
func Reduce(state SessionState, intent Intent, cfg Config) (SessionState, []Command) {
	switch intent.Kind {
	case IntentConnect:
		return reduceConnect(state, intent)
	case IntentDisconnect:
		return reduceDisconnect(state, intent)
	case IntentSubscribe:
		return reduceSubscribe(state, intent)
	case IntentUnsubscribe:
		return reduceUnsubscribe(state, intent)
	case IntentPublish:
		return reducePublish(state, intent, cfg)
	case IntentAuthenticate:
		return reduceAuthenticate(state, intent)
	case IntentConnectionEstablished:
		return reduceConnectionEstablished(state, intent)
	case IntentConnectionClosed:
		return reduceConnectionClosed(state, intent)
	case IntentConnectionFailed:
		return reduceConnectionFailed(state, intent)
	case IntentRelayFrame:
		return reduceRelayFrame(state, intent, cfg)
	case IntentOutboundFailure:
		return reduceOutboundFailure(state, intent)
	default:
		// Unknown intent kinds are a no-op, not a panic (spec §7: "Reducer
		// never panics/aborts on unexpected inputs").
		return state, nil
	}
}

func cloneSubscriptions(m map[event.SubscriptionID]SubscriptionState) map[event.SubscriptionID]SubscriptionState {
	return maps.Clone(m)
}

func strPtr(s string) *string { return &s }

func isConnectedTo(c ConnectionSnapshot, url string) bool {
	return c.Kind == Connected && c.URL == url
}

func emitOutput(o Output) Command {
	return Command{Kind: CmdEmitOutput, Output: o}
}

func sendToRelay(m protocol.ClientMessage) Command {
	return Command{Kind: CmdSendToRelay, Message: m}
}

// --- Connect / Disconnect -------------------------------------------------

func reduceConnect(state SessionState, intent Intent) (SessionState, []Command) {
	if isConnectedTo(state.Connection, intent.URL) {
		return state, nil
	}
	next := state
	next.DesiredRelayURL = strPtr(intent.URL)
	next.Connection = ConnectionSnapshot{Kind: Connecting, URL: intent.URL}
	next.LastError = nil
	return next, []Command{
		{Kind: CmdOpenConnection, URL: intent.URL},
		emitOutput(Output{Kind: OutConnectionStateChanged, Snapshot: next.Connection}),
	}
}

func reduceDisconnect(state SessionState, intent Intent) (SessionState, []Command) {
	next := state
	if state.Connection.Kind != Connected {
		next.Connection = ConnectionSnapshot{Kind: Disconnected}
		next.DesiredRelayURL = nil
		return next, []Command{
			emitOutput(Output{Kind: OutConnectionStateChanged, Snapshot: next.Connection}),
		}
	}
	url := state.Connection.URL
	next.Connection = ConnectionSnapshot{
		Kind:        Disconnecting,
		URL:         url,
		CloseCode:   intent.Code,
		CloseReason: intent.Reason,
	}
	next.DesiredRelayURL = nil
	return next, []Command{
		{Kind: CmdCloseConnection, Code: intent.Code, Reason: intent.Reason},
		emitOutput(Output{Kind: OutConnectionStateChanged, Snapshot: next.Connection}),
	}
}

// --- Subscribe / Unsubscribe ----------------------------------------------

func reduceSubscribe(state SessionState, intent Intent) (SessionState, []Command) {
	next := state
	next.Subscriptions = cloneSubscriptions(state.Subscriptions)

	status := SubPending
	if state.Connection.Kind == Connected {
		status = SubActive
	}
	next.Subscriptions[intent.SubID] = SubscriptionState{
		ID:               intent.SubID,
		Filters:          intent.Filters,
		Status:           status,
		ReceivedEventIDs: nil,
		EoseReceived:     false,
	}

	cmds := []Command{
		emitOutput(Output{Kind: OutSubscriptionRegistered, SubID: intent.SubID}),
	}
	if state.Connection.Kind == Connected {
		cmds = append(cmds, sendToRelay(protocol.ClientMessage{
			Kind: protocol.ClientReq, SubID: intent.SubID, Filters: intent.Filters,
		}))
	}
	return next, cmds
}

func reduceUnsubscribe(state SessionState, intent Intent) (SessionState, []Command) {
	existing, ok := state.Subscriptions[intent.SubID]
	if !ok {
		return state, nil
	}
	next := state
	next.Subscriptions = cloneSubscriptions(state.Subscriptions)
	existing.Status = SubClosing
	next.Subscriptions[intent.SubID] = existing

	if state.Connection.Kind == Connected {
		return next, []Command{sendToRelay(protocol.ClientMessage{Kind: protocol.ClientClose, SubID: intent.SubID})}
	}
	return next, nil
}

// --- Publish / Authenticate ------------------------------------------------

func reducePublish(state SessionState, intent Intent, cfg Config) (SessionState, []Command) {
	next := state
	next.PublishStatuses = state.PublishStatuses.Put(intent.Event.ID, PublishStatus{Kind: PublishPending}, cfg.MaxPublishStatuses)

	if state.Connection.Kind == Connected {
		return next, []Command{sendToRelay(protocol.ClientMessage{Kind: protocol.ClientEvent, Event: intent.Event})}
	}
	next.PendingPublishes = append(append([]event.Event(nil), state.PendingPublishes...), intent.Event)
	return next, nil
}

func reduceAuthenticate(state SessionState, intent Intent) (SessionState, []Command) {
	if state.Connection.Kind != Connected {
		err := EngineError{Kind: ErrOutboundFailure, OutboundReason: "cannot authenticate while disconnected"}
		return state, []Command{emitOutput(Output{Kind: OutError, Err: err})}
	}
	next := state
	challenge, _ := intent.Event.ChallengeTag()
	next.Auth.LatestAttempt = &AuthAttempt{Challenge: challenge, EventID: intent.Event.ID}
	return next, []Command{sendToRelay(protocol.ClientMessage{Kind: protocol.ClientAuth, Event: intent.Event})}
}

// --- Connection lifecycle --------------------------------------------------

func reduceConnectionEstablished(state SessionState, intent Intent) (SessionState, []Command) {
	next := state
	next.Connection = ConnectionSnapshot{Kind: Connected, URL: intent.URL}
	next.LastError = nil
	next.Subscriptions = cloneSubscriptions(state.Subscriptions)

	var cmds []Command
	for _, ev := range state.PendingPublishes {
		cmds = append(cmds, sendToRelay(protocol.ClientMessage{Kind: protocol.ClientEvent, Event: ev}))
	}
	next.PendingPublishes = nil

	// Go map iteration order is random, so the subscription ids are
	// sorted first: the Close/Req commands below are emitted in ascending
	// SubID order, keeping the command list deterministic for a given
	// state (spec §3: "insertion-order irrelevant").
	ids := maps.Keys(state.Subscriptions)
	sortSubIDs(ids)
	for _, id := range ids {
		sub := next.Subscriptions[id]
		switch sub.Status {
		case SubClosed:
			// untouched, no Req
		case SubClosing:
			cmds = append(cmds, sendToRelay(protocol.ClientMessage{Kind: protocol.ClientClose, SubID: id}))
		case SubPending, SubActive:
			sub.Status = SubActive
			sub.EoseReceived = false
			sub.ReceivedEventIDs = nil
			next.Subscriptions[id] = sub
			cmds = append(cmds, sendToRelay(protocol.ClientMessage{Kind: protocol.ClientReq, SubID: id, Filters: sub.Filters}))
		}
	}

	cmds = append(cmds, emitOutput(Output{Kind: OutConnectionStateChanged, Snapshot: next.Connection}))
	return next, cmds
}

func reduceConnectionClosed(state SessionState, intent Intent) (SessionState, []Command) {
	next := state
	next.Subscriptions = cloneSubscriptions(state.Subscriptions)
	for id, sub := range next.Subscriptions {
		if sub.Status != SubClosed {
			sub.Status = SubPending
			next.Subscriptions[id] = sub
		}
	}
	next.Connection = ConnectionSnapshot{Kind: Disconnected}
	return next, []Command{emitOutput(Output{Kind: OutConnectionStateChanged, Snapshot: next.Connection})}
}

func reduceConnectionFailed(state SessionState, intent Intent) (SessionState, []Command) {
	next := state
	url := ""
	if intent.FailURL != nil {
		url = *intent.FailURL
	}
	next.Connection = ConnectionSnapshot{
		Kind:            Failed,
		URL:             url,
		Message:         intent.FailMessage,
		Reason:          intent.FailReason,
		FailCloseCode:   intent.FailCloseCode,
		FailCloseReason: intent.FailCloseReason,
		Cause:           intent.FailCause,
	}
	engErr := EngineError{
		Kind:        ErrConnectionFailure,
		URL:         url,
		Reason:      intent.FailReason,
		Message:     intent.FailMessage,
		CloseCode:   intent.FailCloseCode,
		CloseReason: intent.FailCloseReason,
		Cause:       intent.FailCause,
	}
	next.LastError = &engErr
	return next, []Command{emitOutput(Output{Kind: OutError, Err: engErr})}
}

// --- Relay frames ------------------------------------------------------

func reduceRelayFrame(state SessionState, intent Intent, cfg Config) (SessionState, []Command) {
	switch intent.Frame.Kind {
	case protocol.RelayEvent:
		return reduceRelayEvent(state, intent.Frame, cfg)
	case protocol.RelayEOSE:
		return reduceRelayEOSE(state, intent.Frame)
	case protocol.RelayClosed:
		return reduceRelayClosed(state, intent.Frame)
	case protocol.RelayOK:
		return reduceRelayOK(state, intent.Frame, cfg)
	case protocol.RelayNotice:
		return state, []Command{emitOutput(Output{Kind: OutNotice, Text: intent.Frame.Text})}
	case protocol.RelayAuthChallenge:
		return reduceRelayAuthChallenge(state, intent.Frame)
	case protocol.RelayCount:
		return state, []Command{emitOutput(Output{Kind: OutCountResult, SubID: intent.Frame.SubID, Count: intent.Frame.Count})}
	case protocol.RelayUnknown:
		err := EngineError{Kind: ErrProtocolViolation, Description: intent.Frame.Reason}
		return state, []Command{emitOutput(Output{Kind: OutError, Err: err})}
	default:
		return state, nil
	}
}

func reduceRelayEvent(state SessionState, frame protocol.RelayMessage, cfg Config) (SessionState, []Command) {
	if cfg.VerifyEventIDs && cfg.Hasher != nil {
		canonical, err := cfg.Hasher.CanonicalID(frame.Event)
		if err != nil || canonical != frame.Event.ID {
			e := EngineError{Kind: ErrProtocolViolation, Description: "event id does not match canonical hash"}
			return state, []Command{emitOutput(Output{Kind: OutError, Err: e})}
		}
	}

	sub, ok := state.Subscriptions[frame.SubID]
	if !ok {
		e := EngineError{Kind: ErrProtocolViolation, Description: "event received for unknown subscription " + string(frame.SubID)}
		return state, []Command{emitOutput(Output{Kind: OutError, Err: e})}
	}

	if containsID(sub.ReceivedEventIDs, frame.Event.ID) {
		return state, nil
	}

	next := state
	next.Subscriptions = cloneSubscriptions(state.Subscriptions)
	sub.ReceivedEventIDs = appendDedup(sub.ReceivedEventIDs, frame.Event.ID, cfg.MaxEventReplayIDs)
	sub.Status = SubActive
	next.Subscriptions[frame.SubID] = sub

	return next, []Command{emitOutput(Output{Kind: OutEventReceived, SubID: frame.SubID, Event: frame.Event})}
}

func reduceRelayEOSE(state SessionState, frame protocol.RelayMessage) (SessionState, []Command) {
	sub, ok := state.Subscriptions[frame.SubID]
	if !ok {
		return state, nil
	}
	next := state
	next.Subscriptions = cloneSubscriptions(state.Subscriptions)
	sub.EoseReceived = true
	next.Subscriptions[frame.SubID] = sub
	return next, []Command{emitOutput(Output{Kind: OutEndOfStoredEvents, SubID: frame.SubID})}
}

func reduceRelayClosed(state SessionState, frame protocol.RelayMessage) (SessionState, []Command) {
	sub, ok := state.Subscriptions[frame.SubID]
	if !ok {
		return state, nil
	}
	next := state
	next.Subscriptions = cloneSubscriptions(state.Subscriptions)
	sub.Status = SubClosed
	next.Subscriptions[frame.SubID] = sub
	return next, []Command{emitOutput(Output{Kind: OutSubscriptionTerminated, SubID: frame.SubID})}
}

func reduceRelayOK(state SessionState, frame protocol.RelayMessage, cfg Config) (SessionState, []Command) {
	next := state
	status := PublishStatus{Kind: PublishAcknowledged, Result: frame.Result}
	next.PublishStatuses = state.PublishStatuses.Put(frame.Result.EventID, status, cfg.MaxPublishStatuses)

	if state.Auth.LatestAttempt != nil && state.Auth.LatestAttempt.EventID == frame.Result.EventID {
		attempt := *state.Auth.LatestAttempt
		accepted := frame.Result.Accepted
		attempt.Accepted = &accepted
		attempt.Message = frame.Result.Message
		next.Auth.LatestAttempt = &attempt
	}

	return next, []Command{emitOutput(Output{Kind: OutPublishAcknowledged, Result: frame.Result})}
}

func reduceRelayAuthChallenge(state SessionState, frame protocol.RelayMessage) (SessionState, []Command) {
	next := state
	next.Auth.Challenge = strPtr(frame.Challenge)
	url := state.Connection.URL
	return next, []Command{emitOutput(Output{Kind: OutAuthChallenge, Challenge: frame.Challenge, URL: url})}
}

func reduceOutboundFailure(state SessionState, intent Intent) (SessionState, []Command) {
	next := state
	err := EngineError{Kind: ErrOutboundFailure, OutboundReason: intent.OutboundReason}
	next.LastError = &err
	return next, []Command{emitOutput(Output{Kind: OutError, Err: err})}
}
