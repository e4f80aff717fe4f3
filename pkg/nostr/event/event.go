// Package event is the nostr event as carried by the pool: enough structure
// to identify, route and re-send an event. Signing and verification belong to
// the caller.
package event

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/mailru/easyjson/jwriter"
	"github.com/minio/sha256-simd"
	"github.com/tidwall/gjson"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

const (
	KindTextNote             = 1
	KindFollowList           = 3
	KindRelayListMetadata    = 10002
	KindClientAuthentication = 22242
)

// T is the primary datatype of nostr. This is the form of the structure
// that defines its JSON string based format.
type T struct {
	// ID is the SHA256 hash of the canonical encoding of the event
	ID string `json:"id"`
	// PubKey is the public key of the event creator in hexadecimal format
	PubKey string `json:"pubkey"`
	// CreatedAt is the UNIX timestamp of the event according to the event
	// creator (never trust a timestamp!)
	CreatedAt timestamp.T `json:"created_at"`
	Kind      int         `json:"kind"`
	Tags      Tags        `json:"tags"`
	Content   string      `json:"content"`
	Sig       string      `json:"sig"`
}

// C is a channel of events.
type C chan *T

// Tags is the list of tag arrays of an event.
type Tags [][]string

// GetFirst returns the first tag whose name matches key, or nil.
func (t Tags) GetFirst(key string) []string {
	for _, tg := range t {
		if len(tg) > 0 && tg[0] == key {
			return tg
		}
	}
	return nil
}

// ContainsAny reports whether a tag named key has a value in values.
func (t Tags) ContainsAny(key string, values []string) bool {
	for _, tg := range t {
		if len(tg) < 2 || tg[0] != key {
			continue
		}
		for _, v := range values {
			if tg[1] == v {
				return true
			}
		}
	}
	return false
}

func writeTags(w *jwriter.Writer, tags Tags) {
	w.RawByte('[')
	for i, tg := range tags {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawByte('[')
		for j, v := range tg {
			if j > 0 {
				w.RawByte(',')
			}
			w.String(v)
		}
		w.RawByte(']')
	}
	w.RawByte(']')
}

// Serialize outputs the canonical array form that is hashed to make the ID:
//
//	[0,"pubkey",created_at,kind,[tags],"content"]
func (ev *T) Serialize() []byte {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`[0,`)
	w.String(ev.PubKey)
	w.RawByte(',')
	w.Int64(int64(ev.CreatedAt))
	w.RawByte(',')
	w.Int(ev.Kind)
	w.RawByte(',')
	writeTags(&w, ev.Tags)
	w.RawByte(',')
	w.String(ev.Content)
	w.RawByte(']')
	b, _ := w.BuildBytes()
	return b
}

// GetID hashes the canonical form and returns the hex encoded event ID.
func (ev *T) GetID() string {
	h := sha256.Sum256(ev.Serialize())
	return hex.EncodeToString(h[:])
}

// CheckID reports whether the ID field matches the content of the event.
func (ev *T) CheckID() bool { return ev.ID == ev.GetID() }

// MarshalEasyJSON writes the event object into an easyjson writer, so that
// envelopes can embed it without an intermediate buffer.
func (ev *T) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"id":`)
	w.String(ev.ID)
	w.RawString(`,"pubkey":`)
	w.String(ev.PubKey)
	w.RawString(`,"created_at":`)
	w.Int64(int64(ev.CreatedAt))
	w.RawString(`,"kind":`)
	w.Int(ev.Kind)
	w.RawString(`,"tags":`)
	writeTags(w, ev.Tags)
	w.RawString(`,"content":`)
	w.String(ev.Content)
	w.RawString(`,"sig":`)
	w.String(ev.Sig)
	w.RawByte('}')
}

func (ev *T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	ev.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// UnmarshalJSON decodes an event object.
func (ev *T) UnmarshalJSON(b []byte) (err error) {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("invalid event json")
	}
	return ev.FromResult(gjson.ParseBytes(b))
}

// FromResult fills the event from an already parsed JSON object.
func (ev *T) FromResult(r gjson.Result) (err error) {
	if !r.IsObject() {
		err = log.D.Err("event is not a json object: %s", r.Raw)
		return
	}
	ev.ID = r.Get("id").Str
	ev.PubKey = r.Get("pubkey").Str
	ev.CreatedAt = timestamp.T(r.Get("created_at").Int())
	ev.Kind = int(r.Get("kind").Int())
	ev.Content = r.Get("content").Str
	ev.Sig = r.Get("sig").Str
	ev.Tags = ev.Tags[:0]
	r.Get("tags").ForEach(func(_, tg gjson.Result) bool {
		var t []string
		tg.ForEach(func(_, v gjson.Result) bool {
			t = append(t, v.Str)
			return true
		})
		ev.Tags = append(ev.Tags, t)
		return true
	})
	return
}

func (ev *T) String() string {
	b, err := ev.MarshalJSON()
	if chk.D(err) {
		return ""
	}
	return string(b)
}

// NewAuth creates the unsigned NIP-42 event answering challenge for relay.
func NewAuth(challenge, relay string) *T {
	return &T{
		CreatedAt: timestamp.Now(),
		Kind:      KindClientAuthentication,
		Tags: Tags{
			{"relay", relay},
			{"challenge", challenge},
		},
	}
}
