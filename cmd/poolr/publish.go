package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Hubmakerlabs/poolr/pkg/client"
	"github.com/Hubmakerlabs/poolr/pkg/config"
	"github.com/Hubmakerlabs/poolr/pkg/context"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/keys"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/relay"
)

var (
	ErrBadSig      = errors.New("event signature is not valid")
	ErrNoKey       = errors.New("event is unsigned and no secret key is configured")
	ErrNotAccepted = errors.New("no relay accepted the event")
)

// acks keeps the last answer of each relay to one event.
type acks struct {
	relay.NopListener
	id string
	mx sync.Mutex
	m  map[relayurl.T]string
}

func (a *acks) OnSendResponse(r relay.Client, id string, ok bool, msg string) {
	if id != a.id {
		return
	}
	a.mx.Lock()
	defer a.mx.Unlock()
	if ok {
		a.m[r.URL()] = "ok " + msg
	} else {
		a.m[r.URL()] = "rejected " + msg
	}
}

// readEvent makes the event to publish: a new one from the content, or one
// read from the file or in. Unsigned events are signed with sk, signed ones
// must verify.
func readEvent(a *config.Publish, sk string, in io.Reader) (ev *event.T, err error) {
	if a.Content != "" {
		if ev, err = a.Event(); err != nil {
			return
		}
	} else {
		var b []byte
		if a.File != "" {
			b, err = os.ReadFile(a.File)
		} else {
			b, err = io.ReadAll(in)
		}
		if chk.E(err) {
			return
		}
		ev = &event.T{}
		if err = ev.UnmarshalJSON(b); err != nil {
			return nil, log.E.Err("bad event: %w", err)
		}
	}
	if ev.Sig == "" {
		if sk == "" {
			return nil, ErrNoKey
		}
		err = keys.Sign(ev, sk)
		return
	}
	var valid bool
	if valid, err = keys.Verify(ev); err != nil {
		return
	}
	if !valid {
		err = ErrBadSig
	}
	return
}

// publish sends the event and prints how each relay answered.
func publish(cx context.T, c *client.T, relays relayurl.Set, a *config.Publish,
	sk string, in io.Reader, out io.Writer) (err error) {

	var ev *event.T
	if ev, err = readEvent(a, sk, in); err != nil {
		return
	}
	l := &acks{id: ev.ID, m: make(map[relayurl.T]string)}
	c.Subscribe(l)
	defer c.Unsubscribe(l)
	if a.Timeout > 0 {
		var cancel context.F
		cx, cancel = context.Timeout(cx, a.Timeout)
		defer cancel()
	}
	accepted, werr := c.SendAndWaitForResponse(cx, ev, relays)
	l.mx.Lock()
	for _, rl := range relays.Slice() {
		res, ok := l.m[rl]
		if !ok {
			res = "no answer"
		}
		if _, err = fmt.Fprintf(out, "%s\t%s\n", rl, res); chk.E(err) {
			break
		}
	}
	l.mx.Unlock()
	switch {
	case err != nil:
	case accepted:
	case werr != nil:
		err = werr
	default:
		err = ErrNotAccepted
	}
	return
}
