package relayurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	for in, want := range map[string]T{
		"wss://x.com/y":           "wss://x.com/y",
		"wss://x.com/y/":          "wss://x.com/y",
		"http://x.com/y":          "ws://x.com/y",
		"https://x.com/y":         "wss://x.com/y",
		"wss://x.com":             "wss://x.com",
		"wss://x.com/":            "wss://x.com",
		"x.com":                   "wss://x.com",
		"x.com////":               "wss://x.com",
		"x.com/?x=23":             "wss://x.com?x=23",
		"  WSS://Relay.Damus.IO ": "wss://relay.damus.io",
	} {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		// normalizing twice is stable
		again, err := Normalize(string(got))
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
	_, err := Normalize("")
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = Normalize("wss://")
	assert.Error(t, err)
}

func TestSet(t *testing.T) {
	a, b, c := T("wss://a"), T("wss://b"), T("wss://c")
	s := NewSet(a, b)
	assert.True(t, s.Has(a))
	assert.False(t, s.Has(c))
	assert.True(t, s.Equal(NewSet(b, a)))
	assert.False(t, s.Equal(NewSet(a)))
	assert.True(t, Set(nil).Equal(NewSet()))
	assert.Equal(t, []T{a}, s.Minus(NewSet(b, c)).Slice())
	assert.Equal(t, []T{a, b, c}, Union(s, NewSet(c)).Slice())
	cl := s.Clone()
	cl.Add(c)
	assert.False(t, s.Has(c))
}
