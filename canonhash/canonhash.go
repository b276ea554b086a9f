// Package canonhash provides a reference event.Hasher implementation for
// callers that don't bring their own. Canonical-id verification is an
// optional, injected concern (spec §1); this is the default, not the only
// possible one.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nostrcore/relaysession/event"
)

// Default computes the NIP-01 canonical event id: the sha256 hash of the
// canonical JSON array [0, pubkey, created_at, kind, tags, content], hex
// encoded. It is grounded on the same sha256(serialize(...)) shape used by
// kwsantiago-orly's event.Hash helper, adapted to stdlib crypto/sha256
// since this reference hasher isn't a hot path (it's only exercised when
// a caller sets it as reduce.Config.Hasher with VerifyEventIDs true).
type Default struct{}

// CanonicalID implements event.Hasher.
func (Default) CanonicalID(e event.Event) (event.ID, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	arr := []interface{}{
		0,
		string(e.PubKey),
		e.CreatedAt,
		e.Kind,
		tags,
		e.Content,
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("canonhash: marshal canonical form: %w", err)
	}
	sum := sha256.Sum256(b)
	return event.ID(hex.EncodeToString(sum[:])), nil
}
