// Package relayurl provides the canonical form of a relay address, which is
// the key of every per-relay map in the pool.
package relayurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// T is a normalized relay websocket URL. Two spellings of the same relay
// produce the same T.
type T string

var ErrEmpty = errors.New("empty relay url")

// Normalize lowercases the url, converts http/https schemes to ws/wss,
// assumes wss when no scheme is given and removes trailing path slashes.
func Normalize(u string) (t T, err error) {
	u = strings.ToLower(strings.TrimSpace(u))
	if u == "" {
		return "", ErrEmpty
	}
	// if prefix isn't specified as http/s or websocket, assume secure
	// websocket and add wss prefix (this is the most common).
	if !(strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "ws://") ||
		strings.HasPrefix(u, "wss://")) {
		u = "wss://" + u
	}
	var p *url.URL
	if p, err = url.Parse(u); err != nil {
		return "", fmt.Errorf("invalid relay url '%s': %w", u, err)
	}
	if p.Host == "" {
		return "", fmt.Errorf("invalid relay url '%s': no host", u)
	}
	switch p.Scheme {
	case "https":
		p.Scheme = "wss"
	case "http":
		p.Scheme = "ws"
	}
	p.Path = strings.TrimRight(p.Path, "/")
	return T(p.String()), nil
}

// MustNormalize is Normalize for literals known to be valid.
func MustNormalize(u string) T {
	t, err := Normalize(u)
	if err != nil {
		panic(err)
	}
	return t
}

func (t T) String() string { return string(t) }

// Set is an unordered set of relays.
type Set map[T]struct{}

// NewSet returns a set with the given members.
func NewSet(relays ...T) (s Set) {
	s = make(Set, len(relays))
	for _, r := range relays {
		s[r] = struct{}{}
	}
	return
}

func (s Set) Add(r T)           { s[r] = struct{}{} }
func (s Set) Has(r T) (ok bool) { _, ok = s[r]; return }
func (s Set) Len() int          { return len(s) }

// AddAll inserts every member of o into s.
func (s Set) AddAll(o Set) {
	for r := range o {
		s[r] = struct{}{}
	}
}

// Equal reports whether both sets hold the same members. A nil set equals an
// empty one.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for r := range s {
		if _, ok := o[r]; !ok {
			return false
		}
	}
	return true
}

// Minus returns the members of s not in o.
func (s Set) Minus(o Set) (d Set) {
	d = make(Set)
	for r := range s {
		if _, ok := o[r]; !ok {
			d[r] = struct{}{}
		}
	}
	return
}

// Clone returns an independent copy.
func (s Set) Clone() Set { return maps.Clone(s) }

// Slice returns the members in lexical order.
func (s Set) Slice() (l []T) {
	l = maps.Keys(s)
	slices.Sort(l)
	return
}

// Union returns a new set holding every member of the given sets.
func Union(sets ...Set) (u Set) {
	u = make(Set)
	for _, s := range sets {
		u.AddAll(s)
	}
	return
}
