package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrcore/relaysession/event"
)

func TestCanonicalIDMatchesManualHash(t *testing.T) {
	e := event.Event{
		PubKey:    "deadbeef",
		CreatedAt: 1700000000,
		Kind:      1,
		Tags:      [][]string{{"e", "ref"}},
		Content:   "gm",
	}

	want := sha256.Sum256([]byte(`[0,"deadbeef",1700000000,1,[["e","ref"]],"gm"]`))

	got, err := Default{}.CanonicalID(e)
	require.NoError(t, err)
	assert.Equal(t, event.ID(hex.EncodeToString(want[:])), got)
}

func TestCanonicalIDNilTagsEncodeAsEmptyArray(t *testing.T) {
	e := event.Event{PubKey: "ab", CreatedAt: 1, Kind: 0, Content: ""}

	want := sha256.Sum256([]byte(`[0,"ab",1,0,[],""]`))

	got, err := Default{}.CanonicalID(e)
	require.NoError(t, err)
	assert.Equal(t, event.ID(hex.EncodeToString(want[:])), got)
}

func TestCanonicalIDDeterministic(t *testing.T) {
	e := event.Event{PubKey: "ab", CreatedAt: 1, Kind: 0, Content: "x"}
	a, err := Default{}.CanonicalID(e)
	require.NoError(t, err)
	b, err := Default{}.CanonicalID(e)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
