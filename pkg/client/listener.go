package client

import (
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
)

// Subscribe adds a listener for everything the pool's relays report.
func (c *T) Subscribe(l relay.Listener) {
	c.listenerMx.Lock()
	defer c.listenerMx.Unlock()
	for _, x := range c.listeners {
		if x == l {
			return
		}
	}
	c.listeners = append(c.listeners, l)
}

func (c *T) Unsubscribe(l relay.Listener) {
	c.listenerMx.Lock()
	defer c.listenerMx.Unlock()
	for i, x := range c.listeners {
		if x == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *T) IsSubscribed(l relay.Listener) bool {
	c.listenerMx.RLock()
	defer c.listenerMx.RUnlock()
	for _, x := range c.listeners {
		if x == l {
			return true
		}
	}
	return false
}

func (c *T) each(fn func(l relay.Listener)) {
	c.listenerMx.RLock()
	ls := c.listeners
	c.listenerMx.RUnlock()
	for _, l := range ls {
		fn(l)
	}
}

// renew replays everything the relay should have: open subscriptions,
// counts and unsent events.
func (c *T) renew(r relay.Client) {
	if !c.IsActive() {
		return
	}
	url := r.URL()
	c.reqs.ForEachSub(url, r.SendRequest)
	c.counts.ForEachSub(url, r.SendCount)
	c.outbox.ForEachUnsentEvent(url, r.Send)
}

func (c *T) OnRelayStateChange(r relay.Client, state relay.State) {
	switch state {
	case relay.Connected:
		log.D.F("{%s} connected, renewing filters", r.URL())
		c.renew(r)
	case relay.Disconnected:
		c.authed.Delete(string(r.URL()))
	}
	c.each(func(l relay.Listener) { l.OnRelayStateChange(r, state) })
}

func (c *T) OnEvent(r relay.Client, subID string, ev *event.T, arrival timestamp.T, afterEOSE bool) {
	c.metrics.Event(r.URL())
	c.each(func(l relay.Listener) { l.OnEvent(r, subID, ev, arrival, afterEOSE) })
}

func (c *T) OnEOSE(r relay.Client, subID string, arrival timestamp.T) {
	c.metrics.EOSE(r.URL())
	c.each(func(l relay.Listener) { l.OnEOSE(r, subID, arrival) })
}

func (c *T) OnError(r relay.Client, subID string, err error) {
	c.metrics.Error(r.URL())
	log.D.F("{%s} %v", r.URL(), err)
	c.each(func(l relay.Listener) { l.OnError(r, subID, err) })
}

// OnBeforeSend counts a delivery attempt for the event on the relay.
func (c *T) OnBeforeSend(r relay.Client, ev *event.T) {
	c.outbox.NewTry(ev.ID, r.URL())
	c.each(func(l relay.Listener) { l.OnBeforeSend(r, ev) })
}

// OnSendResponse records the OK. A rejection from a relay that has tries
// left sends the event to it again.
func (c *T) OnSendResponse(r relay.Client, eventID string, success bool, message string) {
	url := r.URL()
	c.metrics.Ack(url, success)
	ev, tracked := c.outbox.Event(eventID)
	c.outbox.NewResponse(eventID, url, success, message)
	if !success {
		log.D.F("{%s} rejected %s: %s", url, eventID, message)
		if tracked && c.IsActive() && !c.outbox.IsDoneFor(eventID, url) {
			r.Send(ev)
		}
	}
	c.each(func(l relay.Listener) { l.OnSendResponse(r, eventID, success, message) })
}

// OnAuth answers each challenge once per connection, when an auth handler
// is set.
func (c *T) OnAuth(r relay.Client, challenge string) {
	url := string(r.URL())
	if c.sign != nil {
		if prev, ok := c.authed.Load(url); !ok || prev != challenge {
			ev := event.NewAuth(challenge, url)
			if err := c.sign(ev); chk.E(err) {
				log.E.F("{%s} could not sign auth: %v", url, err)
			} else {
				c.authed.Store(url, challenge)
				r.SendAuth(ev)
			}
		}
	}
	c.each(func(l relay.Listener) { l.OnAuth(r, challenge) })
}

func (c *T) OnNotify(r relay.Client, description string) {
	log.I.F("{%s} notice: %s", r.URL(), description)
	c.each(func(l relay.Listener) { l.OnNotify(r, description) })
}

func (c *T) OnClosed(r relay.Client, subID string, message string) {
	log.D.F("{%s} closed %s: %s", r.URL(), subID, message)
	c.each(func(l relay.Listener) { l.OnClosed(r, subID, message) })
}

func (c *T) OnSend(r relay.Client, msg string, success bool) {
	c.metrics.Send(r.URL(), success)
	c.each(func(l relay.Listener) { l.OnSend(r, msg, success) })
}

func (c *T) OnCount(r relay.Client, subID string, count int64) {
	c.each(func(l relay.Listener) { l.OnCount(r, subID, count) })
}
