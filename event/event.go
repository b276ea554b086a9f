// Package event defines the wire-level data model shared by every layer of
// the relay session core: events, filters, subscription ids and publish
// results, plus the validation rules NIP-01 imposes on them.
package event

import (
	"fmt"
	"strings"
)

// ID is a lowercase 64-character hex string identifying an Event.
type ID string

// Pubkey is a lowercase 64-character hex string.
type Pubkey string

// Event is the immutable atomic datum of the protocol. Callers construct it
// fully signed; this package only validates shape, it never signs or
// verifies signatures (that's the Signer/Hasher collaborators' job).
type Event struct {
	ID        ID       `json:"id"`
	PubKey    Pubkey   `json:"pubkey"`
	CreatedAt int64    `json:"created_at"`
	Kind      int      `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string   `json:"content"`
	Sig       string   `json:"sig"`
}

const (
	idLen  = 64
	pkLen  = 64
	sigLen = 128
)

// Validate checks the shape invariants from spec §3: hex fields lowercase
// and of the required length, kind in range, every tag non-empty.
func (e Event) Validate() error {
	if err := validateHex("id", string(e.ID), idLen); err != nil {
		return err
	}
	if err := validateHex("pubkey", string(e.PubKey), pkLen); err != nil {
		return err
	}
	if err := validateHex("sig", e.Sig, sigLen); err != nil {
		return err
	}
	if e.Kind < 0 || e.Kind > 65535 {
		return fmt.Errorf("event: kind %d out of range 0..65535", e.Kind)
	}
	for i, tag := range e.Tags {
		if len(tag) == 0 {
			return fmt.Errorf("event: tag %d is empty", i)
		}
	}
	return nil
}

func validateHex(field, s string, wantLen int) error {
	if len(s) != wantLen {
		return fmt.Errorf("event: %s must be %d hex chars, got %d", field, wantLen, len(s))
	}
	if strings.ToLower(s) != s {
		return fmt.Errorf("event: %s must be lowercase hex", field)
	}
	for _, r := range s {
		if !isHexDigit(r) {
			return fmt.Errorf("event: %s contains non-hex character %q", field, r)
		}
	}
	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

// ChallengeTag returns the value of this event's first "challenge" tag, used
// to correlate an AUTH event with the relay's AuthChallenge (NIP-42).
func (e Event) ChallengeTag() (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == "challenge" {
			return tag[1], true
		}
	}
	return "", false
}

// FirstTagValue returns the second element of the first tag whose name
// matches key (e.g. key="e" finds the first event-reference tag), used by
// smartsession to correlate request/response events by a shared "e" tag.
func (e Event) FirstTagValue(key string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1], true
		}
	}
	return "", false
}

// Hasher computes the canonical NIP-01 event id (sha256 of the canonical
// serialization of [0, pubkey, created_at, kind, tags, content]) for an
// Event. It is an external collaborator per spec §1 — the core only
// verifies against it when configured to, it never signs.
type Hasher interface {
	CanonicalID(e Event) (ID, error)
}
