// Package websocket connects the monitor to the upstream realtime feed
// using gorilla/websocket.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/p2pquake-service/internal/monitor"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	// Upstream frames are single JSON objects; large JMAQuake reports stay well under this.
	defaultReadLimit = 4 << 20
)

// Dialer implements monitor.Dialer.
type Dialer struct {
	dialer    websocket.Dialer
	header    http.Header
	readLimit int64
}

// NewDialer creates a dialer with the given handshake timeout. A non-positive
// timeout selects 15s.
func NewDialer(handshakeTimeout time.Duration) *Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	return &Dialer{
		dialer: websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		},
		header:    http.Header{"User-Agent": {"p2pquake-service"}},
		readLimit: defaultReadLimit,
	}
}

// Dial opens a stream to url.
func (d *Dialer) Dial(ctx context.Context, url string) (monitor.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	conn.SetReadLimit(d.readLimit)
	return &Conn{conn: conn}, nil
}

// Conn adapts a gorilla connection to monitor.Conn. Control frames are
// handled by gorilla's default handlers; pings are answered automatically.
type Conn struct {
	conn *websocket.Conn
}

// ReadMessage returns the payload of the next text or binary frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	return data, nil
}

// Close sends a close frame and tears down the connection.
func (c *Conn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
