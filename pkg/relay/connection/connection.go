// Package connection is a client side websocket that negotiates
// permessage-deflate when the relay offers it.
package connection

import (
	"bufio"
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"

	"github.com/Hubmakerlabs/poolr/pkg/context"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// MaxMessageSize is the write buffer size; larger messages are fragmented.
const MaxMessageSize = 4 * 1024 * 1024

var ErrContextCanceled = errors.New("context canceled")

type C struct {
	Conn              net.Conn
	enableCompression bool
	controlHandler    wsutil.FrameHandlerFunc
	flateReader       *wsflate.Reader
	reader            *wsutil.Reader
	flateWriter       *wsflate.Writer
	writer            *wsutil.Writer
	// readState and writeState are owned by the reading and the writing
	// goroutine respectively.
	readState  wsflate.MessageState
	writeState wsflate.MessageState
	writeMx    sync.Mutex
}

// lockedWriter lets the read side answer control frames without
// interleaving with a message being written.
type lockedWriter struct{ c *C }

func (l lockedWriter) Write(p []byte) (int, error) {
	l.c.writeMx.Lock()
	defer l.c.writeMx.Unlock()
	return l.c.Conn.Write(p)
}

// New dials url and completes the websocket handshake.
func New(c context.T, url string, requestHeader http.Header) (conn *C, err error) {
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(requestHeader),
		Extensions: []httphead.Option{
			wsflate.DefaultParameters.Option(),
		},
	}
	var nc net.Conn
	var br *bufio.Reader
	var hs ws.Handshake
	if nc, br, hs, err = dialer.Dial(c, url); chk.D(err) {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	conn = &C{Conn: nc}
	state := ws.StateClientSide
	for _, extension := range hs.Extensions {
		if string(extension.Name) == wsflate.ExtensionName {
			conn.enableCompression = true
			state |= ws.StateExtended
			break
		}
	}
	if conn.enableCompression {
		conn.writeState.SetCompressed(true)
		conn.flateReader = wsflate.NewReader(nil, func(r io.Reader) wsflate.Decompressor {
			return flate.NewReader(r)
		})
		conn.flateWriter = wsflate.NewWriter(nil, func(w io.Writer) wsflate.Compressor {
			fw, e := flate.NewWriter(w, 4)
			if chk.D(e) {
				log.E.F("failed to create flate writer: %v", e)
			}
			return fw
		})
	}
	// frames the relay sent right after the upgrade are already buffered
	// in br
	var src io.Reader = nc
	if br != nil {
		src = br
	}
	conn.controlHandler = wsutil.ControlFrameHandler(lockedWriter{conn},
		ws.StateClientSide)
	conn.reader = &wsutil.Reader{
		Source:         src,
		State:          state,
		OnIntermediate: conn.controlHandler,
		CheckUTF8:      false,
		Extensions: []wsutil.RecvExtension{
			&conn.readState,
		},
	}
	conn.writer = wsutil.NewWriterSize(nc, state, ws.OpText, MaxMessageSize)
	conn.writer.SetExtensions(&conn.writeState)
	return
}

// Compressed reports whether permessage-deflate was negotiated.
func (c *C) Compressed() bool { return c.enableCompression }

func (c *C) WriteMessage(data []byte) (err error) {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	if c.writeState.IsCompressed() && c.enableCompression {
		c.flateWriter.Reset(c.writer)
		if _, err = io.Copy(c.flateWriter, bytes.NewReader(data)); chk.D(err) {
			return fmt.Errorf("failed to write message: %w", err)
		}
		if err = c.flateWriter.Close(); chk.D(err) {
			return fmt.Errorf("failed to close flate writer: %w", err)
		}
	} else {
		if _, err = io.Copy(c.writer, bytes.NewReader(data)); chk.D(err) {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
	if err = c.writer.Flush(); chk.D(err) {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// Ping writes a ping control frame, failing if it cannot be written within
// timeout.
func (c *C) Ping(timeout time.Duration) (err error) {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	chk.D(c.Conn.SetWriteDeadline(time.Now().Add(timeout)))
	defer func() { chk.D(c.Conn.SetWriteDeadline(time.Time{})) }()
	return wsutil.WriteClientMessage(c.Conn, ws.OpPing, nil)
}

// ReadMessage reads the next text or binary message into buf, answering
// control frames on the way.
func (c *C) ReadMessage(cx context.T, buf io.Writer) (err error) {
	for {
		select {
		case <-cx.Done():
			return ErrContextCanceled
		default:
		}
		var h ws.Header
		if h, err = c.reader.NextFrame(); err != nil {
			chk.D(c.Conn.Close())
			return fmt.Errorf("failed to advance frame: %w", err)
		}
		if h.OpCode.IsControl() {
			if err = c.controlHandler(h, c.reader); chk.D(err) {
				return fmt.Errorf("failed to handle control frame: %w", err)
			}
		} else if h.OpCode == ws.OpBinary || h.OpCode == ws.OpText {
			break
		}
		if err = c.reader.Discard(); chk.D(err) {
			return fmt.Errorf("failed to discard: %w", err)
		}
	}
	if c.readState.IsCompressed() && c.enableCompression {
		c.flateReader.Reset(c.reader)
		if _, err = io.Copy(buf, c.flateReader); chk.D(err) {
			return fmt.Errorf("failed to read message: %w", err)
		}
	} else {
		if _, err = io.Copy(buf, c.reader); chk.D(err) {
			return fmt.Errorf("failed to read message: %w", err)
		}
	}
	return nil
}

func (c *C) Close() (err error) { return c.Conn.Close() }
