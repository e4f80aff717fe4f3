package relaytest

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"

	"github.com/Hubmakerlabs/poolr/pkg/nostr/envelopes"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// Server is a small relay that keeps published events in memory, answers
// REQ with the matching ones followed by EOSE, acknowledges EVENT and AUTH,
// and answers COUNT.
type Server struct {
	*httptest.Server
	// Challenge, when set, is sent as an AUTH message on every new
	// connection.
	Challenge string
	// Reject makes every EVENT get a negative OK with this reason.
	Reject string
	// Compress, when set, accepts permessage-deflate and then alternates
	// compressed and plain replies.
	Compress bool

	mx       sync.Mutex
	events   []*event.T
	received []string
	plain    int
	conns    []net.Conn
}

// peer is one client connection. Only its serving goroutine writes to it.
type peer struct {
	conn     net.Conn
	compress bool
	sent     int
}

func NewServer() (s *Server) {
	s = &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return
}

// URL is the websocket address of the server.
func (s *Server) URL() relayurl.T {
	return relayurl.T("ws" + strings.TrimPrefix(s.Server.URL, "http"))
}

func (s *Server) Store(evs ...*event.T) {
	s.mx.Lock()
	s.events = append(s.events, evs...)
	s.mx.Unlock()
}

// SetReject changes Reject while connections are being served.
func (s *Server) SetReject(reason string) {
	s.mx.Lock()
	s.Reject = reason
	s.mx.Unlock()
}

// Received returns every message the server has read, in order.
func (s *Server) Received() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.received...)
}

// DropConnections closes every open client connection.
func (s *Server) DropConnections() {
	s.mx.Lock()
	conns := s.conns
	s.conns = nil
	s.mx.Unlock()
	for _, c := range conns {
		chk.D(c.Close())
	}
}

// Plain returns how many data frames arrived uncompressed on connections
// that negotiated compression.
func (s *Server) Plain() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.plain
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mx.Lock()
	compress, challenge := s.Compress, s.Challenge
	s.mx.Unlock()
	var u ws.HTTPUpgrader
	ext := wsflate.Extension{Parameters: wsflate.DefaultParameters}
	if compress {
		u.Negotiate = ext.Negotiate
	}
	conn, _, _, err := u.Upgrade(r, w)
	if chk.D(err) {
		return
	}
	p := &peer{conn: conn}
	if compress {
		_, p.compress = ext.Accepted()
	}
	s.mx.Lock()
	s.conns = append(s.conns, conn)
	s.mx.Unlock()
	go func() {
		defer conn.Close()
		if challenge != "" {
			s.reply(p, &envelopes.Auth{Challenge: challenge})
		}
		for {
			msg, ok := s.read(p)
			if !ok {
				return
			}
			if msg != nil {
				s.handle(p, msg)
			}
		}
	}()
}

// read returns the next text message, or nil for a frame that carried none.
func (s *Server) read(p *peer) (msg []byte, ok bool) {
	f, err := ws.ReadFrame(p.conn)
	if err != nil {
		return nil, false
	}
	if f.Header.Masked {
		f = ws.UnmaskFrameInPlace(f)
	}
	switch f.Header.OpCode {
	case ws.OpClose:
		return nil, false
	case ws.OpPing:
		chk.D(ws.WriteFrame(p.conn, ws.NewPongFrame(f.Payload)))
		return nil, true
	case ws.OpText:
	default:
		return nil, true
	}
	if p.compress {
		var compressed bool
		if compressed, err = wsflate.IsCompressed(f.Header); chk.D(err) {
			return nil, false
		}
		if !compressed {
			s.mx.Lock()
			s.plain++
			s.mx.Unlock()
		} else if f, err = wsflate.DecompressFrame(f); chk.D(err) {
			return nil, false
		}
	}
	return f.Payload, true
}

func (s *Server) reply(p *peer, env envelopes.E) {
	b, err := env.MarshalJSON()
	if chk.E(err) {
		return
	}
	f := ws.NewTextFrame(b)
	if p.compress && p.sent%2 == 0 {
		if f, err = wsflate.CompressFrame(f); chk.E(err) {
			return
		}
	}
	p.sent++
	chk.D(ws.WriteFrame(p.conn, f))
}

func (s *Server) handle(p *peer, msg []byte) {
	s.mx.Lock()
	s.received = append(s.received, string(msg))
	reject := s.Reject
	s.mx.Unlock()
	env, err := envelopes.Parse(msg)
	if err != nil {
		n := envelopes.Notice("could not parse: " + err.Error())
		s.reply(p, &n)
		return
	}
	switch env := env.(type) {
	case *envelopes.Req:
		for _, ev := range s.matching(env) {
			s.reply(p, &envelopes.Event{SubscriptionID: env.SubscriptionID, Event: ev})
		}
		eose := envelopes.EOSE(env.SubscriptionID)
		s.reply(p, &eose)
	case *envelopes.Count:
		n := int64(len(s.matching(&envelopes.Req{Filters: env.Filters})))
		s.reply(p, &envelopes.Count{SubscriptionID: env.SubscriptionID, Count: &n})
	case *envelopes.Event:
		if reject != "" {
			s.reply(p, &envelopes.OK{EventID: env.Event.ID, Reason: reject})
			return
		}
		s.Store(env.Event)
		s.reply(p, &envelopes.OK{EventID: env.Event.ID, OK: true})
	case *envelopes.Auth:
		if env.Event != nil {
			s.reply(p, &envelopes.OK{EventID: env.Event.ID, OK: true})
		}
	case *envelopes.Close:
	default:
		log.D.F("test relay ignoring %s", env.Label())
	}
}

func (s *Server) matching(req *envelopes.Req) (out []*event.T) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, ev := range s.events {
		if req.Filters.Match(ev) {
			out = append(out, ev)
		}
	}
	return
}

// Shutdown drops the client connections and stops the server.
func (s *Server) Shutdown() {
	s.DropConnections()
	s.Server.Close()
}
