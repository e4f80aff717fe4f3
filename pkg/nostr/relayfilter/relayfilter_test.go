package relayfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
)

func TestGroupByRelay(t *testing.T) {
	a, b := relayurl.T("wss://a.com"), relayurl.T("wss://b.com")
	f1 := &filter.T{Kinds: []int{1}}
	f2 := &filter.T{Authors: []string{"aa"}}
	list := []T{
		New(a, f1),
		New(b, &filter.T{}),
		New(a, f2),
		New(b, nil),
	}
	m := GroupByRelay(list)
	require.Len(t, m, 1)
	require.Len(t, m[a], 2)
	assert.Same(t, f1, m[a][0])
	assert.Same(t, f2, m[a][1])
	_, ok := m[b]
	assert.False(t, ok)
	assert.Equal(t, 2, Relays(list).Len())
}

func TestForRelaysAndEqual(t *testing.T) {
	set := relayurl.NewSet("wss://b.com", "wss://a.com")
	f := &filter.T{Kinds: []int{3}}
	list := ForRelays(set, f)
	require.Len(t, list, 2)
	assert.Equal(t, relayurl.T("wss://a.com"), list[0].Relay)
	assert.True(t, Equal(list, ForRelays(set, &filter.T{Kinds: []int{3}})))
	assert.False(t, Equal(list, ForRelays(set, &filter.T{Kinds: []int{4}})))
	assert.False(t, Equal(list, list[:1]))
}
