package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong. Pings
	// go out at nine tenths of it.
	pongWait = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// WSDialer opens push channel connections to the trading server.
type WSDialer struct {
	wsURL    string
	header   http.Header
	pongWait time.Duration
	dialer   websocket.Dialer
}

// NewWSDialer creates a dialer for wsURL, e.g. "ws://localhost:8080/ws".
func NewWSDialer(wsURL string) *WSDialer {
	return &WSDialer{
		wsURL:    wsURL,
		header:   http.Header{},
		pongWait: pongWait,
		dialer:   websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// WithHeader adds a header sent with every handshake.
func (d *WSDialer) WithHeader(key, value string) *WSDialer {
	d.header.Set(key, value)
	return d
}

// WithPongWait overrides how long a silent connection is tolerated.
func (d *WSDialer) WithPongWait(w time.Duration) *WSDialer {
	if w > 0 {
		d.pongWait = w
	}
	return d
}

// Dial opens one connection and starts its keep-alive pinger.
func (d *WSDialer) Dial(ctx context.Context) (*WSConn, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.wsURL, d.header)
	if err != nil {
		return nil, fmt.Errorf("exchange/ws: connect: %w", err)
	}

	c := &WSConn{
		conn:     conn,
		pongWait: d.pongWait,
		done:     make(chan struct{}),
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	go c.pingLoop((c.pongWait * 9) / 10)
	return c, nil
}

// WSConn is one open push connection. ReadMessage must be called from a
// single goroutine; Close is safe to call concurrently and more than once.
type WSConn struct {
	conn     *websocket.Conn
	pongWait time.Duration

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// ReadMessage blocks for the next frame. Any received frame extends the read
// deadline.
func (c *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	return data, nil
}

// Close sends a close frame and closes the socket.
func (c *WSConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *WSConn) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
