package filter

import (
	"fmt"
	"os"
	"sort"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// T is a query where one or all elements can be filled in.
//
// Tags are not bundled under a key on the wire: each entry is promoted to the
// top level of the object with a '#' prefix for single letter names, so
// Tags{"e": {"x"}} encodes as "#e":["x"].
type T struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Tags    TagMap
	Since   *timestamp.T
	Until   *timestamp.T
	Limit   *int
	Search  string
}

type TagMap map[string][]string

func (t TagMap) Clone() (t1 TagMap) {
	if t == nil {
		return
	}
	t1 = make(TagMap, len(t))
	for k, v := range t {
		t1[k] = slices.Clone(v)
	}
	return
}

// IsFilled reports whether the filter constrains anything at all. Filters
// that are not filled must never be sent to a relay.
func (f *T) IsFilled() bool {
	if f == nil {
		return false
	}
	if len(f.IDs) > 0 || len(f.Kinds) > 0 || len(f.Authors) > 0 {
		return true
	}
	for _, v := range f.Tags {
		if len(v) > 0 {
			return true
		}
	}
	return f.Since != nil || f.Until != nil || f.Limit != nil || f.Search != ""
}

// Matches reports whether the event satisfies every constraint of the
// filter.
func (f *T) Matches(ev *event.T) bool {
	if ev == nil {
		return false
	}
	if f.IDs != nil && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if f.Kinds != nil && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if f.Authors != nil && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}
	for name, values := range f.Tags {
		if values != nil && !ev.Tags.ContainsAny(name, values) {
			return false
		}
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

func arePointerValuesEqual[V comparable](a *V, b *V) bool {
	if a == nil && b == nil {
		return true
	}
	if a != nil && b != nil {
		return *a == *b
	}
	return false
}

// Equal compares two filters field by field.
func Equal(a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch {
	case !slices.Equal(a.Kinds, b.Kinds),
		!slices.Equal(a.IDs, b.IDs),
		!slices.Equal(a.Authors, b.Authors),
		len(a.Tags) != len(b.Tags),
		!arePointerValuesEqual(a.Since, b.Since),
		!arePointerValuesEqual(a.Until, b.Until),
		!arePointerValuesEqual(a.Limit, b.Limit),
		a.Search != b.Search:
		return false
	}
	for k, av := range a.Tags {
		if bv, ok := b.Tags[k]; !ok || !slices.Equal(av, bv) {
			return false
		}
	}
	return true
}

// EqualIgnoringSince is Equal with the since field excluded, which is the
// only field a re-subscription with an advanced EOSE mark changes.
func EqualIgnoringSince(a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	ac, bc := *a, *b
	ac.Since, bc.Since = nil, nil
	return Equal(&ac, &bc)
}

func (f *T) Clone() (clone *T) {
	clone = &T{
		IDs:     slices.Clone(f.IDs),
		Kinds:   slices.Clone(f.Kinds),
		Authors: slices.Clone(f.Authors),
		Tags:    f.Tags.Clone(),
		Search:  f.Search,
	}
	if f.Since != nil {
		clone.Since = f.Since.Ptr()
	}
	if f.Until != nil {
		clone.Until = f.Until.Ptr()
	}
	if f.Limit != nil {
		l := *f.Limit
		clone.Limit = &l
	}
	return
}

// WithSince returns a copy of the filter with since replaced. A nil since
// leaves the copy without a lower bound.
func (f *T) WithSince(since *timestamp.T) (c *T) {
	c = f.Clone()
	c.Since = nil
	if since != nil {
		c.Since = since.Ptr()
	}
	return
}

func writeStrings(w *jwriter.Writer, ss []string) {
	w.RawByte('[')
	for i, s := range ss {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(s)
	}
	w.RawByte(']')
}

// MarshalEasyJSON writes the filter object. Only set fields are written, and
// tags are written in sorted order so equal filters encode identically.
func (f *T) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	first := true
	key := func(k string) {
		if !first {
			w.RawByte(',')
		}
		first = false
		w.String(k)
		w.RawByte(':')
	}
	if f.IDs != nil {
		key("ids")
		writeStrings(w, f.IDs)
	}
	if f.Kinds != nil {
		key("kinds")
		w.RawByte('[')
		for i, k := range f.Kinds {
			if i > 0 {
				w.RawByte(',')
			}
			w.Int(k)
		}
		w.RawByte(']')
	}
	if f.Authors != nil {
		key("authors")
		writeStrings(w, f.Authors)
	}
	names := maps.Keys(f.Tags)
	sort.Strings(names)
	for _, name := range names {
		k := name
		if len(name) == 1 {
			k = "#" + name
		}
		key(k)
		writeStrings(w, f.Tags[name])
	}
	if f.Since != nil {
		key("since")
		w.Int64(int64(*f.Since))
	}
	if f.Until != nil {
		key("until")
		w.Int64(int64(*f.Until))
	}
	if f.Limit != nil {
		key("limit")
		w.Int(*f.Limit)
	}
	if f.Search != "" {
		key("search")
		w.String(f.Search)
	}
	w.RawByte('}')
}

func (f *T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	f.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// UnmarshalJSON decodes a filter object, rolling the "#x" keys up into Tags.
func (f *T) UnmarshalJSON(b []byte) (err error) {
	if f == nil {
		return fmt.Errorf("cannot unmarshal into nil filter")
	}
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("invalid filter json: %s", b)
	}
	return f.FromResult(gjson.ParseBytes(b))
}

func stringsOf(r gjson.Result) (ss []string) {
	ss = []string{}
	r.ForEach(func(_, v gjson.Result) bool {
		ss = append(ss, v.Str)
		return true
	})
	return
}

// FromResult fills the filter from an already parsed JSON object.
func (f *T) FromResult(r gjson.Result) (err error) {
	if !r.IsObject() {
		return log.D.Err("filter is not a json object: %s", r.Raw)
	}
	*f = T{}
	r.ForEach(func(k, v gjson.Result) bool {
		switch name := k.Str; {
		case name == "ids":
			f.IDs = stringsOf(v)
		case name == "authors":
			f.Authors = stringsOf(v)
		case name == "kinds":
			f.Kinds = []int{}
			v.ForEach(func(_, kv gjson.Result) bool {
				f.Kinds = append(f.Kinds, int(kv.Int()))
				return true
			})
		case name == "since":
			f.Since = timestamp.T(v.Int()).Ptr()
		case name == "until":
			f.Until = timestamp.T(v.Int()).Ptr()
		case name == "limit":
			l := int(v.Int())
			f.Limit = &l
		case name == "search":
			f.Search = v.Str
		case len(name) > 1 && name[0] == '#':
			if f.Tags == nil {
				f.Tags = make(TagMap)
			}
			f.Tags[name[1:]] = stringsOf(v)
		default:
			log.T.F("ignoring unknown filter field '%s'", name)
		}
		return true
	})
	return
}

func (f *T) String() string {
	b, err := f.MarshalJSON()
	if chk.D(err) {
		return ""
	}
	return string(b)
}
