package protocol

import "strings"

// DefaultCodePrefixes is the conventional (not normative, per spec §9)
// whitelist of machine-readable prefixes relays use on OK and CLOSED
// messages. Exposed as configuration rather than hardcoded so callers can
// extend it as new prefixes are adopted by the network.
var DefaultCodePrefixes = []string{
	"duplicate",
	"pow",
	"blocked",
	"rate-limited",
	"invalid",
	"restricted",
	"error",
	"auth-required",
}

// SplitPrefixCode extracts the machine-readable code prefix from a relay
// message body, per spec §6.1: the text before the first ':' is the code
// only if it's in the allowed set; otherwise code is "" and the full
// message is returned unchanged. Shared between OK and CLOSED decoding
// (the teacher's relay.go only special-cased this for OK).
func SplitPrefixCode(body string, allowed []string) (code, message string) {
	idx := strings.Index(body, ":")
	if idx < 0 {
		return "", body
	}
	candidate := strings.TrimSpace(body[:idx])
	for _, c := range allowed {
		if candidate == c {
			rest := strings.TrimPrefix(body[idx+1:], " ")
			return c, rest
		}
	}
	return "", body
}
