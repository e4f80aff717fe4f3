package eose

import (
	"encoding/hex"
	"sync"

	"github.com/puzpuzpuz/xsync/v2"
	"lukechampine.com/frand"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayfilter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
)

// Client is the part of the pool orchestrator the managers drive.
type Client interface {
	OpenReqSubscription(subID string, list []relayfilter.T)
	Close(subID string)
	Subscribe(l relay.Listener)
	Unsubscribe(l relay.Listener)
	Reconnect(onlyIfChanged bool)
}

type (
	// EventFunc receives the events of a subscription.
	EventFunc func(ev *event.T, rl relayurl.T, arrival timestamp.T, afterEOSE bool)
	// EOSEFunc receives the end of stored events of a subscription, and,
	// with live set, the arrival time of each event that comes after it.
	EOSEFunc func(rl relayurl.T, at timestamp.T, live bool)
)

// Subscription is one REQ subscription id with its current relay filters.
type Subscription struct {
	ID      string
	onEvent EventFunc
	onEOSE  EOSEFunc

	mx      sync.Mutex
	filters []relayfilter.T
}

func NewSubscriptionID() string { return hex.EncodeToString(frand.Bytes(8)) }

// Filters returns the filters last set on the subscription.
func (s *Subscription) Filters() []relayfilter.T {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.filters
}

// Controller opens subscriptions on a Client and routes what relays send for
// them back to each subscription. Messages for ids it does not know are
// ignored.
type Controller struct {
	relay.NopListener
	client Client
	subs   *xsync.MapOf[string, *Subscription]
}

func NewController(c Client) (ctl *Controller) {
	ctl = &Controller{client: c, subs: xsync.NewMapOf[*Subscription]()}
	c.Subscribe(ctl)
	return
}

// Open registers a new subscription. Nothing is sent until it gets filters.
func (ctl *Controller) Open(onEvent EventFunc, onEOSE EOSEFunc) (s *Subscription) {
	s = &Subscription{ID: NewSubscriptionID(), onEvent: onEvent, onEOSE: onEOSE}
	ctl.subs.Store(s.ID, s)
	return
}

// Update replaces the filters of the subscription. An empty list closes it
// on every relay but keeps it registered.
func (ctl *Controller) Update(s *Subscription, list []relayfilter.T) {
	s.mx.Lock()
	s.filters = list
	s.mx.Unlock()
	ctl.client.OpenReqSubscription(s.ID, list)
}

// End closes the subscription everywhere and forgets it.
func (ctl *Controller) End(s *Subscription) {
	ctl.subs.Delete(s.ID)
	ctl.client.Close(s.ID)
}

func (ctl *Controller) Get(id string) (s *Subscription, ok bool) { return ctl.subs.Load(id) }

func (ctl *Controller) Len() int { return ctl.subs.Size() }

// Destroy ends every subscription and stops listening to the client.
func (ctl *Controller) Destroy() {
	ctl.subs.Range(func(_ string, s *Subscription) bool {
		ctl.End(s)
		return true
	})
	ctl.client.Unsubscribe(ctl)
}

func (ctl *Controller) OnEvent(r relay.Client, subID string, ev *event.T,
	arrival timestamp.T, afterEOSE bool) {

	s, ok := ctl.subs.Load(subID)
	if !ok {
		return
	}
	if s.onEvent != nil {
		s.onEvent(ev, r.URL(), arrival, afterEOSE)
	}
	// a live event means the relay is still caught up
	if afterEOSE && s.onEOSE != nil {
		s.onEOSE(r.URL(), arrival, true)
	}
}

func (ctl *Controller) OnEOSE(r relay.Client, subID string, arrival timestamp.T) {
	if s, ok := ctl.subs.Load(subID); ok && s.onEOSE != nil {
		s.onEOSE(r.URL(), arrival, false)
	}
}
