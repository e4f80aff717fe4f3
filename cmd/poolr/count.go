package main

import (
	"fmt"
	"io"
	"time"

	"github.com/Hubmakerlabs/poolr/pkg/client"
	"github.com/Hubmakerlabs/poolr/pkg/config"
	"github.com/Hubmakerlabs/poolr/pkg/context"
	"github.com/Hubmakerlabs/poolr/pkg/eose"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayfilter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
)

// CountTimeout is how long count waits for relays to answer.
const CountTimeout = 15 * time.Second

type countResult struct {
	relay relayurl.T
	n     int64
	err   string
}

// counts collects the answers to one COUNT subscription.
type counts struct {
	relay.NopListener
	subID string
	ch    chan countResult
}

// put never blocks the relay that answered.
func (l *counts) put(res countResult) {
	select {
	case l.ch <- res:
	default:
	}
}

func (l *counts) OnCount(r relay.Client, subID string, n int64) {
	if subID == l.subID {
		l.put(countResult{relay: r.URL(), n: n})
	}
}

func (l *counts) OnClosed(r relay.Client, subID, msg string) {
	if subID == l.subID {
		l.put(countResult{relay: r.URL(), err: msg})
	}
}

// count asks every relay how many events match the filter and prints one
// line per relay.
func count(cx context.T, c *client.T, relays relayurl.Set, a *config.Count,
	out io.Writer) (err error) {

	var f *filter.T
	if f, err = a.Filter(); err != nil {
		return
	}
	l := &counts{subID: eose.NewSubscriptionID(), ch: make(chan countResult, relays.Len())}
	c.Subscribe(l)
	defer c.Unsubscribe(l)
	c.QueryCount(l.subID, relayfilter.ForRelays(relays, f))
	defer c.Close(l.subID)
	answered := relayurl.NewSet()
	timeout := time.After(CountTimeout)
	for answered.Len() < relays.Len() {
		select {
		case res := <-l.ch:
			if answered.Has(res.relay) {
				continue
			}
			answered.Add(res.relay)
			if res.err != "" {
				_, err = fmt.Fprintf(out, "%s\terror: %s\n", res.relay, res.err)
			} else {
				_, err = fmt.Fprintf(out, "%s\t%d\n", res.relay, res.n)
			}
			if chk.E(err) {
				return
			}
		case <-cx.Done():
			return cx.Err()
		case <-timeout:
			for _, rl := range relays.Minus(answered).Slice() {
				_, err = fmt.Fprintf(out, "%s\tno answer\n", rl)
			}
			return
		}
	}
	return
}
