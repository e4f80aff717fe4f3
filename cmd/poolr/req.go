package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Hubmakerlabs/poolr/pkg/client"
	"github.com/Hubmakerlabs/poolr/pkg/config"
	"github.com/Hubmakerlabs/poolr/pkg/context"
	"github.com/Hubmakerlabs/poolr/pkg/eose"
	"github.com/Hubmakerlabs/poolr/pkg/eose/store"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayfilter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
)

// SeenCacheSize bounds the ids remembered to drop events that several relays
// send.
const SeenCacheSize = 1 << 14

// StoredTimeout is how long req waits for relays to finish sending stored
// events when not following.
const StoredTimeout = 15 * time.Second

// printer writes each event once, as a JSON line.
type printer struct {
	mx   sync.Mutex
	w    io.Writer
	seen *lru.Cache[string, struct{}]
}

func newPrinter(w io.Writer) (p *printer, err error) {
	p = &printer{w: w}
	p.seen, err = lru.New[string, struct{}](SeenCacheSize)
	return
}

func (p *printer) print(ev *event.T, rl relayurl.T) {
	if dup, _ := p.seen.ContainsOrAdd(ev.ID, struct{}{}); dup {
		return
	}
	log.D.F("{%s} %s", rl, ev.ID)
	p.mx.Lock()
	defer p.mx.Unlock()
	_, err := fmt.Fprintln(p.w, ev.String())
	chk.E(err)
}

// req prints the events matching the filter from every relay. Without follow
// it returns once every relay has sent its stored events. With follow it
// runs until the context ends, and with a store it resumes from the marks of
// the previous run.
func req(cx context.T, c *client.T, relays relayurl.Set, a *config.Req, st store.I,
	out io.Writer) (err error) {

	var f *filter.T
	if f, err = a.Filter(); err != nil {
		return
	}
	var p *printer
	if p, err = newPrinter(out); chk.E(err) {
		return
	}
	var mx sync.Mutex
	done := relayurl.NewSet()
	finished := make(chan struct{})
	opts := []eose.Option{
		eose.WithOnEvent(p.print),
		eose.WithOnEOSE(func(_ string, rl relayurl.T) {
			mx.Lock()
			defer mx.Unlock()
			if done.Has(rl) {
				return
			}
			done.Add(rl)
			log.D.F("{%s} stored events done (%d/%d)", rl, done.Len(), relays.Len())
			if done.Len() == relays.Len() {
				close(finished)
			}
		}),
	}
	if a.Follow && st != nil {
		opts = append(opts, eose.WithStore(st, "req/"+f.String()))
	}
	m := eose.SingleSub[*filter.T](c, (*filter.T).String,
		func(ff []*filter.T, marks *eose.Marks) []relayfilter.T {
			return marks.PerRelay(relays, ff...)
		}, opts...)
	defer m.Destroy()
	cancel := m.Subscribe(f)
	defer cancel()
	if a.Follow {
		<-cx.Done()
		return cx.Err()
	}
	select {
	case <-finished:
	case <-cx.Done():
		return cx.Err()
	case <-time.After(StoredTimeout):
		mx.Lock()
		log.W.F("gave up waiting for %v", relays.Minus(done).Slice())
		mx.Unlock()
	}
	return
}
