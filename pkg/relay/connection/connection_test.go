package connection_test

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Hubmakerlabs/poolr/pkg/context"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/envelopes"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/filters"
	"github.com/Hubmakerlabs/poolr/pkg/relay/connection"
	"github.com/Hubmakerlabs/poolr/pkg/relay/relaytest"
)

// A relay that greets in the same segment as the upgrade response leaves
// the greeting in the dialer's read buffer.
func TestFrameSentWithHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		bw := bufio.NewWriter(nc)
		rw := struct {
			io.Reader
			io.Writer
		}{nc, bw}
		if _, err = ws.Upgrade(rw); err != nil {
			return
		}
		if err = ws.WriteFrame(bw, ws.NewTextFrame([]byte(`["AUTH","first"]`))); err != nil {
			return
		}
		if err = bw.Flush(); err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, nc)
	}()

	c, err := connection.New(context.Bg(), "ws://"+ln.Addr().String(), nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := new(bytes.Buffer)
	require.NoError(t, c.ReadMessage(context.Bg(), buf))
	assert.Equal(t, `["AUTH","first"]`, buf.String())
}

func TestCompressedReadWhileWriting(t *testing.T) {
	srv := relaytest.NewServer()
	srv.Compress = true
	defer srv.Shutdown()
	c, err := connection.New(context.Bg(), string(srv.URL()), nil)
	require.NoError(t, err)
	defer c.Close()
	require.True(t, c.Compressed())
	require.NoError(t, c.Conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	const n = 50
	var eg errgroup.Group
	eg.Go(func() (err error) {
		for i := 0; i < n; i++ {
			req := &envelopes.Req{SubscriptionID: fmt.Sprint("s", i),
				Filters: filters.T{{Kinds: []int{1}}}}
			var b []byte
			if b, err = req.MarshalJSON(); err != nil {
				return
			}
			if err = c.WriteMessage(b); err != nil {
				return
			}
		}
		return
	})
	buf := new(bytes.Buffer)
	for i := 0; i < n; i++ {
		buf.Reset()
		require.NoError(t, c.ReadMessage(context.Bg(), buf))
		env, err := envelopes.Parse(buf.Bytes())
		require.NoError(t, err)
		eose, ok := env.(*envelopes.EOSE)
		require.True(t, ok, buf.String())
		assert.Equal(t, fmt.Sprint("s", i), string(*eose))
	}
	require.NoError(t, eg.Wait())
	// every REQ went out compressed even while plain replies were read
	assert.Zero(t, srv.Plain())
	assert.Len(t, srv.Received(), n)
}

func TestPlainRelay(t *testing.T) {
	srv := relaytest.NewServer()
	defer srv.Shutdown()
	c, err := connection.New(context.Bg(), string(srv.URL()), nil)
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Compressed())
	require.NoError(t, c.WriteMessage([]byte(`["REQ","p",{}]`)))
	require.NoError(t, c.Conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := new(bytes.Buffer)
	require.NoError(t, c.ReadMessage(context.Bg(), buf))
	assert.Equal(t, `["EOSE","p"]`, buf.String())
}
