package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
)

func TestSignVerify(t *testing.T) {
	sk, err := GeneratePrivateKey()
	require.NoError(t, err)
	require.Len(t, sk, 64)
	pk, err := GetPublicKey(sk)
	require.NoError(t, err)
	require.Len(t, pk, 64)

	ev := &event.T{CreatedAt: 100, Kind: 1, Tags: event.Tags{{"t", "x"}}, Content: "hi"}
	require.NoError(t, Sign(ev, sk))
	assert.Equal(t, pk, ev.PubKey)
	assert.True(t, ev.CheckID())
	valid, err := Verify(ev)
	require.NoError(t, err)
	assert.True(t, valid)

	ev.Content = "changed"
	_, err = Verify(ev)
	assert.ErrorIs(t, err, ErrBadID)

	ev.ID = ev.GetID()
	valid, err = Verify(ev)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestBadKeys(t *testing.T) {
	_, err := GetPublicKey("abc")
	assert.ErrorIs(t, err, ErrBadSecKey)
	_, err = GetPublicKey(strings.Repeat("z", 64))
	assert.ErrorIs(t, err, ErrBadSecKey)
	assert.ErrorIs(t, Sign(&event.T{}, ""), ErrBadSecKey)
}

// secret key 1 has the generator point as its public key
func TestKnownPublicKey(t *testing.T) {
	pk, err := GetPublicKey(strings.Repeat("0", 63) + "1")
	require.NoError(t, err)
	assert.Equal(t, "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798", pk)
}
