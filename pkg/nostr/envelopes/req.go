package envelopes

import (
	"github.com/tidwall/gjson"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
)

// Req opens or replaces a subscription.
type Req struct {
	SubscriptionID string
	Filters        filters.T
}

func (*Req) Label() string { return LabelReq }

func (r *Req) MarshalJSON() ([]byte, error) {
	w := open(LabelReq)
	w.RawByte(',')
	w.String(r.SubscriptionID)
	if len(r.Filters) > 0 {
		w.RawByte(',')
		r.Filters.MarshalTo(w)
	}
	return finish(w)
}

func (r *Req) UnmarshalJSON(b []byte) (err error) {
	var arr []gjson.Result
	if arr, err = array(b, LabelReq, 3); err != nil {
		return
	}
	r.SubscriptionID = arr[1].Str
	r.Filters, err = parseFilters(arr[2:])
	return
}

func (r *Req) String() string { return str(r) }

// Count is a COUNT request when it carries filters and a relay's answer when
// it carries a count.
type Count struct {
	SubscriptionID string
	Filters        filters.T
	Count          *int64
	Approximate    bool
}

func (*Count) Label() string { return LabelCount }

func (c *Count) MarshalJSON() ([]byte, error) {
	w := open(LabelCount)
	w.RawByte(',')
	w.String(c.SubscriptionID)
	w.RawByte(',')
	if c.Count != nil {
		w.RawString(`{"count":`)
		w.Int64(*c.Count)
		if c.Approximate {
			w.RawString(`,"approximate":true`)
		}
		w.RawByte('}')
	} else {
		c.Filters.MarshalTo(w)
	}
	return finish(w)
}

func (c *Count) UnmarshalJSON(b []byte) (err error) {
	var arr []gjson.Result
	if arr, err = array(b, LabelCount, 3); err != nil {
		return
	}
	c.SubscriptionID = arr[1].Str
	if n := arr[2].Get("count"); n.Exists() {
		v := n.Int()
		c.Count = &v
		c.Approximate = arr[2].Get("approximate").Bool()
		return
	}
	c.Filters, err = parseFilters(arr[2:])
	return
}

func (c *Count) String() string { return str(c) }

func parseFilters(rr []gjson.Result) (ff filters.T, err error) {
	ff = make(filters.T, 0, len(rr))
	for _, r := range rr {
		f := &filter.T{}
		if err = f.FromResult(r); err != nil {
			return
		}
		ff = append(ff, f)
	}
	return
}
