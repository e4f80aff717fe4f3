// Package relayfilter pairs a filter with the relay it is meant for.
package relayfilter

import (
	"os"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

type T struct {
	Relay  relayurl.T
	Filter *filter.T
}

func New(relay relayurl.T, f *filter.T) T { return T{Relay: relay, Filter: f} }

// ForRelays builds one entry per relay, all sharing the same filters.
func ForRelays(relays relayurl.Set, ff ...*filter.T) (out []T) {
	for _, r := range relays.Slice() {
		for _, f := range ff {
			out = append(out, T{Relay: r, Filter: f})
		}
	}
	return
}

// GroupByRelay folds the list into per relay filter lists, preserving order
// within each relay. Filters that constrain nothing are dropped.
func GroupByRelay(list []T) (m map[relayurl.T]filters.T) {
	m = make(map[relayurl.T]filters.T)
	for _, rf := range list {
		if !rf.Filter.IsFilled() {
			log.D.F("dropping empty filter for %s", rf.Relay)
			continue
		}
		m[rf.Relay] = append(m[rf.Relay], rf.Filter)
	}
	return
}

// Relays returns every relay named in the list, including ones whose
// filters are all empty.
func Relays(list []T) (s relayurl.Set) {
	s = relayurl.NewSet()
	for _, rf := range list {
		s.Add(rf.Relay)
	}
	return
}

// Equal compares two lists in order.
func Equal(a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Relay != b[i].Relay || !filter.Equal(a[i].Filter, b[i].Filter) {
			return false
		}
	}
	return true
}
