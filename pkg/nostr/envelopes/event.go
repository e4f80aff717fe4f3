package envelopes

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
)

// Event carries an event. Relays send it with the subscription id it
// matched; clients publish it without one.
type Event struct {
	SubscriptionID string
	Event          *event.T
}

func (*Event) Label() string { return LabelEvent }

func (e *Event) MarshalJSON() ([]byte, error) {
	if e.Event == nil {
		return nil, fmt.Errorf("EVENT envelope without event")
	}
	w := open(LabelEvent)
	w.RawByte(',')
	if e.SubscriptionID != "" {
		w.String(e.SubscriptionID)
		w.RawByte(',')
	}
	e.Event.MarshalEasyJSON(w)
	return finish(w)
}

func (e *Event) UnmarshalJSON(b []byte) (err error) {
	var arr []gjson.Result
	if arr, err = array(b, LabelEvent, 2); err != nil {
		return
	}
	raw := arr[1]
	if len(arr) > 2 {
		e.SubscriptionID = arr[1].Str
		raw = arr[2]
	}
	e.Event = &event.T{}
	return e.Event.FromResult(raw)
}

func (e *Event) String() string { return str(e) }

// Auth is a challenge when it comes from a relay and a signed
// authentication event when it goes to one.
type Auth struct {
	Challenge string
	Event     *event.T
}

func (*Auth) Label() string { return LabelAuth }

func (a *Auth) MarshalJSON() ([]byte, error) {
	w := open(LabelAuth)
	w.RawByte(',')
	if a.Event != nil {
		a.Event.MarshalEasyJSON(w)
	} else {
		w.String(a.Challenge)
	}
	return finish(w)
}

func (a *Auth) UnmarshalJSON(b []byte) (err error) {
	var arr []gjson.Result
	if arr, err = array(b, LabelAuth, 2); err != nil {
		return
	}
	if arr[1].IsObject() {
		a.Event = &event.T{}
		return a.Event.FromResult(arr[1])
	}
	a.Challenge = arr[1].Str
	return
}

func (a *Auth) String() string { return str(a) }
