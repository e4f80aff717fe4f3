package envelopes

import (
	"github.com/tidwall/gjson"
)

// Close asks a relay to end a subscription.
type Close string

func (Close) Label() string { return LabelClose }

func (c Close) MarshalJSON() ([]byte, error) {
	w := open(LabelClose)
	w.RawByte(',')
	w.String(string(c))
	return finish(w)
}

func (c *Close) UnmarshalJSON(b []byte) (err error) {
	var arr []gjson.Result
	if arr, err = array(b, LabelClose, 2); err != nil {
		return
	}
	*c = Close(arr[1].Str)
	return
}

func (c Close) String() string { return str(c) }

// EOSE marks the end of stored events for a subscription.
type EOSE string

func (EOSE) Label() string { return LabelEOSE }

func (e EOSE) MarshalJSON() ([]byte, error) {
	w := open(LabelEOSE)
	w.RawByte(',')
	w.String(string(e))
	return finish(w)
}

func (e *EOSE) UnmarshalJSON(b []byte) (err error) {
	var arr []gjson.Result
	if arr, err = array(b, LabelEOSE, 2); err != nil {
		return
	}
	*e = EOSE(arr[1].Str)
	return
}

func (e EOSE) String() string { return str(e) }

// Notice is a human readable message from the relay.
type Notice string

func (Notice) Label() string { return LabelNotice }

func (n Notice) MarshalJSON() ([]byte, error) {
	w := open(LabelNotice)
	w.RawByte(',')
	w.String(string(n))
	return finish(w)
}

func (n *Notice) UnmarshalJSON(b []byte) (err error) {
	var arr []gjson.Result
	if arr, err = array(b, LabelNotice, 2); err != nil {
		return
	}
	*n = Notice(arr[1].Str)
	return
}

func (n Notice) String() string { return str(n) }

// Closed is sent by a relay that ended a subscription on its own.
type Closed struct {
	SubscriptionID string
	Reason         string
}

func (*Closed) Label() string { return LabelClosed }

func (c *Closed) MarshalJSON() ([]byte, error) {
	w := open(LabelClosed)
	w.RawByte(',')
	w.String(c.SubscriptionID)
	w.RawByte(',')
	w.String(c.Reason)
	return finish(w)
}

func (c *Closed) UnmarshalJSON(b []byte) (err error) {
	var arr []gjson.Result
	if arr, err = array(b, LabelClosed, 3); err != nil {
		return
	}
	c.SubscriptionID, c.Reason = arr[1].Str, arr[2].Str
	return
}

func (c *Closed) String() string { return str(c) }

// OK acknowledges an EVENT, positively or not.
type OK struct {
	EventID string
	OK      bool
	Reason  string
}

func (*OK) Label() string { return LabelOK }

func (o *OK) MarshalJSON() ([]byte, error) {
	w := open(LabelOK)
	w.RawByte(',')
	w.String(o.EventID)
	w.RawByte(',')
	w.Bool(o.OK)
	w.RawByte(',')
	w.String(o.Reason)
	return finish(w)
}

func (o *OK) UnmarshalJSON(b []byte) (err error) {
	var arr []gjson.Result
	if arr, err = array(b, LabelOK, 3); err != nil {
		return
	}
	o.EventID = arr[1].Str
	o.OK = arr[2].Raw == "true"
	if len(arr) > 3 {
		o.Reason = arr[3].Str
	}
	return
}

func (o *OK) String() string { return str(o) }
