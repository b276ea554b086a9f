package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/nostrcore/relaysession/event"
)

// JSONCodec is the default Codec, encoding/decoding the bit-exact framing
// from spec §6.1 ("EVENT"/"REQ"/"CLOSE"/"AUTH" client-side, "EVENT"/"OK"/
// "EOSE"/"CLOSED"/"NOTICE"/"AUTH"/"COUNT" relay-side).
//
// Decoding never panics or returns an error: a malformed frame becomes a
// RelayMessage{Kind: RelayUnknown}, matching the teacher's own read loop
// (relay.go), which silently `continue`s on any Unmarshal failure rather
// than surfacing an error to the caller.
type JSONCodec struct {
	// CodePrefixes is consulted by SplitPrefixCode for OK/CLOSED messages.
	// Defaults to DefaultCodePrefixes when nil.
	CodePrefixes []string
}

// NewJSONCodec returns a JSONCodec using DefaultCodePrefixes.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{CodePrefixes: DefaultCodePrefixes}
}

func (c *JSONCodec) prefixes() []string {
	if c.CodePrefixes != nil {
		return c.CodePrefixes
	}
	return DefaultCodePrefixes
}

// EncodeClientMessage implements WireEncode.
func (c *JSONCodec) EncodeClientMessage(m ClientMessage) (string, error) {
	var arr []interface{}
	switch m.Kind {
	case ClientEvent:
		arr = []interface{}{"EVENT", m.Event}
	case ClientReq:
		arr = make([]interface{}, 0, 2+len(m.Filters))
		arr = append(arr, "REQ", string(m.SubID))
		for _, f := range m.Filters {
			arr = append(arr, encodeFilter(f))
		}
	case ClientClose:
		arr = []interface{}{"CLOSE", string(m.SubID)}
	case ClientAuth:
		arr = []interface{}{"AUTH", m.Event}
	default:
		return "", fmt.Errorf("protocol: unknown client message kind %d", m.Kind)
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("protocol: encode client message: %w", err)
	}
	return string(b), nil
}

// encodeFilter converts a Filter into the map NIP-01 expects, omitting
// empty sets per spec §6.1 ("Empty sets must be omitted").
func encodeFilter(f event.Filter) map[string]interface{} {
	m := map[string]interface{}{}
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit != nil {
		m["limit"] = *f.Limit
	}
	for key, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		m["#"+key] = values
	}
	return m
}

// DecodeRelayMessage implements WireDecode. It sniffs the frame's leading
// verb with gjson before committing to a strict encoding/json decode of
// the typed payload, so a truncated or garbage frame degrades to Unknown
// without a panic or an expensive full unmarshal of an invalid structure
// (grounded on kwsantiago-orly and ice-blockchain-go-nostr's use of
// tidwall/gjson for lenient pre-parsing of untrusted relay input).
func (c *JSONCodec) DecodeRelayMessage(raw string) RelayMessage {
	if !gjson.Valid(raw) {
		return unknown(raw, "invalid json")
	}
	arr := gjson.Parse(raw)
	if !arr.IsArray() {
		return unknown(raw, "not a json array")
	}
	elems := arr.Array()
	if len(elems) < 1 {
		return unknown(raw, "empty array")
	}
	verb := elems[0].String()

	switch verb {
	case "EVENT":
		if len(elems) < 3 {
			return unknown(raw, "EVENT: expected 3 elements")
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(elems[2].Raw), &ev); err != nil {
			return unknown(raw, fmt.Sprintf("EVENT: %v", err))
		}
		return RelayMessage{
			Kind:  RelayEvent,
			SubID: event.SubscriptionID(elems[1].String()),
			Event: ev,
		}
	case "OK":
		if len(elems) < 3 {
			return unknown(raw, "OK: expected at least 3 elements")
		}
		msg := ""
		if len(elems) > 3 {
			msg = elems[3].String()
		}
		code, message := SplitPrefixCode(msg, c.prefixes())
		return RelayMessage{
			Kind: RelayOK,
			Result: event.PublishResult{
				EventID:  event.ID(elems[1].String()),
				Accepted: elems[2].Bool(),
				Message:  message,
				Code:     code,
			},
		}
	case "EOSE":
		if len(elems) < 2 {
			return unknown(raw, "EOSE: expected 2 elements")
		}
		return RelayMessage{Kind: RelayEOSE, SubID: event.SubscriptionID(elems[1].String())}
	case "CLOSED":
		if len(elems) < 3 {
			return unknown(raw, "CLOSED: expected 3 elements")
		}
		code, message := SplitPrefixCode(elems[2].String(), c.prefixes())
		return RelayMessage{
			Kind:         RelayClosed,
			SubID:        event.SubscriptionID(elems[1].String()),
			ClosedReason: message,
			ClosedCode:   code,
		}
	case "NOTICE":
		if len(elems) < 2 {
			return unknown(raw, "NOTICE: expected 2 elements")
		}
		return RelayMessage{Kind: RelayNotice, Text: elems[1].String()}
	case "AUTH":
		if len(elems) < 2 {
			return unknown(raw, "AUTH: expected 2 elements")
		}
		return RelayMessage{Kind: RelayAuthChallenge, Challenge: elems[1].String()}
	case "COUNT":
		if len(elems) < 2 {
			return unknown(raw, "COUNT: expected 2 elements")
		}
		n := 0
		if len(elems) > 2 {
			n = int(elems[2].Get("count").Int())
		}
		return RelayMessage{Kind: RelayCount, SubID: event.SubscriptionID(elems[1].String()), Count: n}
	default:
		return unknown(raw, fmt.Sprintf("unrecognized verb %q", verb))
	}
}

func unknown(raw, reason string) RelayMessage {
	return RelayMessage{Kind: RelayUnknown, Raw: raw, Reason: reason}
}
