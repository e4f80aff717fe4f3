// Package config is the configuration of the poolr command, read from the
// command line and an optional JSON file in the profile directory.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filter"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/timestamp"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

const ConfigFile = "config.json"

type InitCfg struct{}

// FilterArgs is a filter given on the command line.
type FilterArgs struct {
	Kinds   []int    `arg:"-k,--kind,separate" help:"event kind to match (repeatable)"`
	Authors []string `arg:"-a,--author,separate" help:"author public key in hex (repeatable)"`
	IDs     []string `arg:"-i,--id,separate" help:"event id in hex (repeatable)"`
	Tags    []string `arg:"-t,--tag,separate" help:"tag to match as name=value (repeatable)"`
	Since   int64    `arg:"--since" help:"only events newer than this unix time"`
	Until   int64    `arg:"--until" help:"only events older than this unix time"`
	Limit   int      `arg:"-l,--limit" help:"maximum number of stored events per relay"`
}

type Req struct {
	FilterArgs
	Follow bool `arg:"-F,--follow" help:"keep streaming new events after the stored ones"`
}

type Count struct {
	FilterArgs
}

// Publish sends either a new event made from Content, or event JSON read from
// File or stdin. Unsigned events are signed with the configured key.
type Publish struct {
	Content string        `arg:"-c,--content" help:"text of a new event to sign and publish"`
	Kind    int           `arg:"-k,--kind" default:"1" help:"kind of the new event"`
	Tags    []string      `arg:"-t,--tag,separate" help:"tag of the new event as name=value (repeatable)"`
	File    string        `arg:"-f,--file" help:"read event JSON from this file instead of stdin"`
	Timeout time.Duration `arg:"--timeout" default:"7s" help:"how long to wait for relays to answer"`
}

// ErrNoFilter is returned for a filter that matches everything.
var ErrNoFilter = errors.New("filter has no constraints")

// C is the whole configuration.
type C struct {
	InitCfgCmd *InitCfg `arg:"subcommand:initcfg" json:"-" help:"write the given options to the profile configuration file"`
	ReqCmd     *Req     `arg:"subcommand:req" json:"-" help:"print events matching a filter"`
	CountCmd   *Count   `arg:"subcommand:count" json:"-" help:"count events matching a filter"`
	PublishCmd *Publish `arg:"subcommand:publish" json:"-" help:"publish a signed event"`
	Profile    string   `arg:"-p,--profile" default:"poolr" json:"-" help:"profile name to use for storage"`
	Relays     []string `arg:"-r,--relay,separate" json:"relays" help:"relay to use (repeatable)"`
	// Window is how long bursts of subscription changes are collected before
	// the relay pool is updated.
	Window      time.Duration `arg:"--window" json:"window" help:"debounce window for pool updates"`
	DialTimeout time.Duration `arg:"--dialtimeout" json:"dial_timeout" help:"websocket dial timeout"`
	KeepAlive   time.Duration `arg:"--keepalive" json:"keep_alive" help:"how often dropped relays are retried"`
	Metrics     string        `arg:"-m,--metrics" json:"metrics,omitempty" help:"address to serve prometheus metrics on"`
	EOSEStore   string        `arg:"--eosestore" json:"eose_store" help:"where EOSE marks are kept [none,memory,badger]"`
	LogLevel    string        `arg:"--loglevel" json:"log_level" help:"set log level [off,fatal,error,warn,info,debug,trace]"`
	// SecKey signs new events and answers relay AUTH challenges.
	SecKey string `arg:"-s,--seckey" json:"seckey,omitempty" help:"secret key in hex for signing"`
}

// Default is the configuration before any flags or files.
func Default() *C {
	return &C{
		Profile:     "poolr",
		Window:      300 * time.Millisecond,
		DialTimeout: 7 * time.Second,
		KeepAlive:   30 * time.Second,
		EOSEStore:   "badger",
		LogLevel:    "info",
	}
}

// Dir is the profile directory.
func (c *C) Dir() (dir string, err error) {
	var home string
	if home, err = os.UserHomeDir(); chk.E(err) {
		return
	}
	return filepath.Join(home, c.Profile), nil
}

func (c *C) Save(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot save nil config")
		log.E.Ln(err)
		return
	}
	var b []byte
	if b, err = json.MarshalIndent(c, "", "    "); chk.E(err) {
		return
	}
	if err = os.MkdirAll(filepath.Dir(filename), 0700); chk.E(err) {
		return
	}
	if err = os.WriteFile(filename, b, 0600); chk.E(err) {
		return
	}
	return
}

func (c *C) Load(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot load into nil config")
		chk.E(err)
		return
	}
	var b []byte
	if b, err = os.ReadFile(filename); err != nil {
		return
	}
	log.T.F("configuration\n%s", string(b))
	if err = json.Unmarshal(b, c); chk.E(err) {
		return
	}
	return
}

// Merge fills the fields left empty on the command line from the file
// version. Relays given on the command line replace those in the file.
func (c *C) Merge(file *C) {
	if len(c.Relays) == 0 {
		c.Relays = append(c.Relays, file.Relays...)
	}
	if c.Window == 0 {
		c.Window = file.Window
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = file.DialTimeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = file.KeepAlive
	}
	if c.Metrics == "" {
		c.Metrics = file.Metrics
	}
	if c.EOSEStore == "" {
		c.EOSEStore = file.EOSEStore
	}
	if c.LogLevel == "" {
		c.LogLevel = file.LogLevel
	}
	if c.SecKey == "" {
		c.SecKey = file.SecKey
	}
}

// RelaySet normalizes the configured relays.
func (c *C) RelaySet() (s relayurl.Set, err error) {
	s = relayurl.NewSet()
	for _, r := range c.Relays {
		var rl relayurl.T
		if rl, err = relayurl.Normalize(r); err != nil {
			return nil, log.E.Err("bad relay %q: %w", r, err)
		}
		s.Add(rl)
	}
	if s.Len() == 0 {
		err = errors.New("no relays configured")
	}
	return
}

// Filter builds the filter the arguments describe.
func (f *FilterArgs) Filter() (ft *filter.T, err error) {
	ft = &filter.T{IDs: f.IDs, Kinds: f.Kinds, Authors: f.Authors}
	for _, tg := range f.Tags {
		var name, value string
		if name, value, err = cutTag(tg); err != nil {
			return nil, err
		}
		if ft.Tags == nil {
			ft.Tags = make(filter.TagMap)
		}
		ft.Tags[name] = append(ft.Tags[name], value)
	}
	if f.Since > 0 {
		ft.Since = timestamp.FromUnix(f.Since).Ptr()
	}
	if f.Until > 0 {
		ft.Until = timestamp.FromUnix(f.Until).Ptr()
	}
	if f.Limit > 0 {
		limit := f.Limit
		ft.Limit = &limit
	}
	if !ft.IsFilled() {
		return nil, ErrNoFilter
	}
	return
}

func cutTag(tg string) (name, value string, err error) {
	var ok bool
	if name, value, ok = strings.Cut(tg, "="); !ok || name == "" {
		err = log.E.Err("tag %q is not name=value", tg)
	}
	return
}

// Event makes the unsigned event the arguments describe.
func (p *Publish) Event() (ev *event.T, err error) {
	ev = &event.T{CreatedAt: timestamp.Now(), Kind: p.Kind, Tags: event.Tags{},
		Content: p.Content}
	for _, tg := range p.Tags {
		var name, value string
		if name, value, err = cutTag(tg); err != nil {
			return nil, err
		}
		ev.Tags = append(ev.Tags, []string{name, value})
	}
	return
}
