// Package filters is an ordered list of filters, as sent in one REQ or COUNT.
package filters

import (
	"github.com/mailru/easyjson/jwriter"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
)

type T []*filter.T

// Match reports whether any filter in the list matches the event.
func (eff T) Match(ev *event.T) bool {
	for _, f := range eff {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

// Filled returns only the filters that constrain something.
func (eff T) Filled() (out T) {
	for _, f := range eff {
		if f.IsFilled() {
			out = append(out, f)
		}
	}
	return
}

// Equal compares two lists element by element.
func Equal(a, b T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !filter.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// NeedsToResend reports whether the new list differs from the old one in
// anything other than the since fields, which advance on every EOSE and on
// their own do not justify replacing a live subscription.
func NeedsToResend(old, nw T) bool {
	if len(old) != len(nw) {
		return true
	}
	for i := range old {
		if !filter.EqualIgnoringSince(old[i], nw[i]) {
			return true
		}
	}
	return false
}

// MarshalTo writes the filters comma separated, as they appear after the
// subscription id in an envelope.
func (eff T) MarshalTo(w *jwriter.Writer) {
	for i, f := range eff {
		if i > 0 {
			w.RawByte(',')
		}
		f.MarshalEasyJSON(w)
	}
}

func (eff T) String() string {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawByte('[')
	eff.MarshalTo(&w)
	w.RawByte(']')
	b, _ := w.BuildBytes()
	return string(b)
}
