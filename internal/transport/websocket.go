// Package transport opens the duplex websocket that carries session envelopes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// SessionPath is the websocket endpoint on a vtr web server.
const SessionPath = "/api/ws"

// DefaultMaxMessageSize caps one inbound message unless WSDialer sets its own.
const DefaultMaxMessageSize = 16 << 20

// ErrMessageTooLarge is returned by ReadMessage for a message over the cap.
var ErrMessageTooLarge = errors.New("websocket message too large")

// Conn is one open websocket carrying binary messages.
type Conn interface {
	// ReadMessage blocks until the next data message arrives.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one binary message.
	WriteMessage(data []byte) error
	// Close closes the connection; it is safe to call more than once.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials real websockets.
type WSDialer struct {
	Header  http.Header
	Timeout time.Duration
	// MaxMessageSize caps inbound messages; zero uses DefaultMaxMessageSize.
	MaxMessageSize int64
}

// Dial performs the websocket handshake.
func (d WSDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := ws.Dialer{Timeout: d.Timeout}
	if len(d.Header) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(d.Header)
	}
	conn, br, _, err := dialer.Dial(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	var src io.Reader = conn
	if br != nil && br.Buffered() > 0 {
		src = io.MultiReader(br, conn)
	} else if br != nil {
		ws.PutReader(br)
	}
	limit := d.MaxMessageSize
	if limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	return newWSConn(conn, src, limit), nil
}

type wsConn struct {
	conn    net.Conn
	reader  *wsutil.Reader
	control wsutil.FrameHandlerFunc
	limit   int64

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn net.Conn, src io.Reader, limit int64) *wsConn {
	c := &wsConn{conn: conn, limit: limit}
	c.control = wsutil.ControlFrameHandler(conn, ws.StateClientSide)
	c.reader = &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	return c
}

// handleControl answers pings and close frames under the write lock so the
// reply never interleaves with a data frame.
func (c *wsConn) handleControl(h ws.Header, r io.Reader) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.control(h, r)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, c.reader); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode != ws.OpBinary && hdr.OpCode != ws.OpText {
			if err := c.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		data, err := io.ReadAll(io.LimitReader(c.reader, c.limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > c.limit {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrMessageTooLarge, c.limit)
		}
		return data, nil
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteClientBinary(c.conn, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = ws.WriteFrame(c.conn, ws.MaskFrameInPlace(ws.NewCloseFrame(body)))
		c.wmu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsCleanClose reports whether err ends a connection through a websocket
// close handshake rather than a transport failure.
func IsCleanClose(err error) bool {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

// URLFromOrigin derives the session websocket URL from a page origin.
func URLFromOrigin(origin string) (string, error) {
	trimmed := strings.TrimSpace(origin)
	if trimmed == "" {
		return "", fmt.Errorf("origin is empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	var scheme string
	switch strings.ToLower(parsed.Scheme) {
	case "http":
		scheme = "ws"
	case "https":
		scheme = "wss"
	default:
		return "", fmt.Errorf("origin %q must use http or https", origin)
	}
	return (&url.URL{Scheme: scheme, Host: parsed.Host, Path: SessionPath}).String(), nil
}

// ResolveURL returns rawURL when set, otherwise the URL derived from origin.
func ResolveURL(rawURL, origin string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return URLFromOrigin(origin)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "ws", "wss":
		if parsed.Host == "" {
			return "", fmt.Errorf("url %q has no host", rawURL)
		}
		return trimmed, nil
	case "http", "https":
		return URLFromOrigin(trimmed)
	default:
		return "", fmt.Errorf("url %q must use ws or wss", rawURL)
	}
}
