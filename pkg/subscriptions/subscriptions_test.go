package subscriptions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayfilter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
)

const (
	A = relayurl.T("wss://a.com")
	B = relayurl.T("wss://b.com")
)

func TestReplaceNotAppend(t *testing.T) {
	r := New()
	fa := &filter.T{Kinds: []int{1}}
	fb := &filter.T{Kinds: []int{7}}
	r.AddOrUpdate("s", []relayfilter.T{relayfilter.New(A, fa)})
	affected := r.AddOrUpdate("s", []relayfilter.T{relayfilter.New(B, fb)})
	assert.True(t, affected.Equal(relayurl.NewSet(A, B)))
	m := r.Filters("s")
	require.Len(t, m, 1)
	assert.True(t, filters.Equal(filters.T{fb}, m[B]))
	assert.Nil(t, r.FiltersFor("s", A))
	assert.True(t, r.Relays().Equal(relayurl.NewSet(B)))
}

func TestRelayStreamOnlyOnChange(t *testing.T) {
	r := New()
	var got []relayurl.Set
	r.OnRelays(func(s relayurl.Set) { got = append(got, s) })
	f := &filter.T{Kinds: []int{1}}
	r.AddOrUpdate("s1", relayfilter.ForRelays(relayurl.NewSet(A), f))
	r.AddOrUpdate("s2", relayfilter.ForRelays(relayurl.NewSet(A), f))
	r.AddOrUpdate("s2", relayfilter.ForRelays(relayurl.NewSet(A, B), f))
	r.Remove("s1")
	r.Remove("nope")
	r.Remove("s2")
	require.Len(t, got, 3)
	assert.True(t, got[0].Equal(relayurl.NewSet(A)))
	assert.True(t, got[1].Equal(relayurl.NewSet(A, B)))
	assert.Equal(t, 0, got[2].Len())
}

func TestForEachSubSkipsEmpty(t *testing.T) {
	r := New()
	f := &filter.T{Kinds: []int{1}}
	r.AddOrUpdate("b", relayfilter.ForRelays(relayurl.NewSet(A), f))
	r.AddOrUpdate("a", relayfilter.ForRelays(relayurl.NewSet(A, B), f))
	r.AddOrUpdate("empty", []relayfilter.T{relayfilter.New(A, &filter.T{})})
	var seen []string
	r.ForEachSub(A, func(id string, ff filters.T) {
		seen = append(seen, id)
		assert.Len(t, ff, 1)
	})
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.True(t, r.IsActive("empty"))
	assert.Len(t, r.ActiveFiltersFor(B), 1)
	assert.Equal(t, []string{"a", "b", "empty"}, r.SubIDs())
}

func TestRemove(t *testing.T) {
	r := New()
	r.AddOrUpdate("s", relayfilter.ForRelays(relayurl.NewSet(A, B), &filter.T{Kinds: []int{1}}))
	affected := r.Remove("s")
	assert.True(t, affected.Equal(relayurl.NewSet(A, B)))
	assert.False(t, r.IsActive("s"))
	assert.Nil(t, r.Filters("s"))
	assert.Equal(t, 0, r.Remove("s").Len())
}
