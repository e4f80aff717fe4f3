// Package envelopes is the wire codec for the messages exchanged with a
// relay. Every message is a JSON array whose first element is a label.
package envelopes

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"

	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

const (
	LabelEvent  = "EVENT"
	LabelReq    = "REQ"
	LabelCount  = "COUNT"
	LabelNotice = "NOTICE"
	LabelEOSE   = "EOSE"
	LabelOK     = "OK"
	LabelAuth   = "AUTH"
	LabelClosed = "CLOSED"
	LabelClose  = "CLOSE"
)

var (
	ErrNotArray     = errors.New("message is not a json array")
	ErrUnknownLabel = errors.New("unknown envelope label")
)

// E is an envelope.
type E interface {
	Label() string
	MarshalJSON() ([]byte, error)
	UnmarshalJSON([]byte) error
	String() string
}

// Parse identifies the envelope by its label and decodes it.
func Parse(message []byte) (env E, err error) {
	message = bytes.TrimSpace(message)
	if !gjson.ValidBytes(message) {
		err = fmt.Errorf("%w: %q", ErrNotArray, truncate(message))
		return
	}
	r := gjson.ParseBytes(message)
	if !r.IsArray() {
		err = fmt.Errorf("%w: %q", ErrNotArray, truncate(message))
		return
	}
	switch label := r.Get("0").Str; label {
	case LabelEvent:
		env = &Event{}
	case LabelReq:
		env = &Req{}
	case LabelCount:
		env = &Count{}
	case LabelNotice:
		env = new(Notice)
	case LabelEOSE:
		env = new(EOSE)
	case LabelOK:
		env = &OK{}
	case LabelAuth:
		env = &Auth{}
	case LabelClosed:
		env = &Closed{}
	case LabelClose:
		env = new(Close)
	default:
		err = fmt.Errorf("%w: '%s'", ErrUnknownLabel, label)
		return
	}
	if err = env.UnmarshalJSON(message); chk.D(err) {
		env = nil
	}
	return
}

func truncate(b []byte) []byte {
	if len(b) > 64 {
		return b[:64]
	}
	return b
}

// array parses the message and checks it carries at least n elements with
// the expected label first.
func array(b []byte, label string, n int) (arr []gjson.Result, err error) {
	r := gjson.ParseBytes(b)
	if !r.IsArray() {
		err = fmt.Errorf("%s: %w", label, ErrNotArray)
		return
	}
	arr = r.Array()
	if len(arr) < n {
		err = fmt.Errorf("failed to decode %s envelope: missing fields", label)
		return
	}
	if arr[0].Str != label {
		err = fmt.Errorf("%s envelope: unexpected label '%s'", label, arr[0].Str)
	}
	return
}

func open(label string) *jwriter.Writer {
	w := &jwriter.Writer{NoEscapeHTML: true}
	w.RawByte('[')
	w.String(label)
	return w
}

func finish(w *jwriter.Writer) ([]byte, error) {
	w.RawByte(']')
	return w.BuildBytes()
}

func str(env interface{ MarshalJSON() ([]byte, error) }) string {
	b, err := env.MarshalJSON()
	if chk.D(err) {
		return ""
	}
	return string(b)
}
