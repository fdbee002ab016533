// Package wsconn runs a reconnecting websocket subscription shared by the
// exchange readers.
package wsconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookflow/logger"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 20 * time.Second
	writeTimeout          = time.Second
)

// Options describes one subscription.
type Options struct {
	URL            string
	ReconnectDelay time.Duration
	KeepAlive      time.Duration
	// Subscribe sends the subscription requests on a fresh connection.
	Subscribe func(c *Client) error
	// Ping sends an application level keepalive. Nil sends a websocket ping
	// frame.
	Ping func(c *Client) error
	// Handle receives every message read from the connection.
	Handle func(c *Client, msg []byte)
}

// Client owns the connection of one subscription. Writes are serialised so
// handlers and the keepalive loop can both write.
type Client struct {
	opts Options
	log  *logger.Entry

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	dialer *websocket.Dialer
}

func New(opts Options, log *logger.Entry) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	return &Client{opts: opts, log: log, dialer: websocket.DefaultDialer}
}

// Run dials, subscribes and reads until ctx is done, reconnecting after
// every failure.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			c.log.WithError(err).WithField("url", c.opts.URL).Warn("failed to connect to websocket")
			if waitForReconnect(ctx, c.opts.ReconnectDelay) {
				return
			}
			continue
		}
		c.setConn(conn)

		if c.opts.Subscribe != nil {
			if err := c.opts.Subscribe(c); err != nil {
				c.log.WithError(err).WithField("url", c.opts.URL).Warn("failed to subscribe")
				c.closeConn(conn)
				if waitForReconnect(ctx, c.opts.ReconnectDelay) {
					return
				}
				continue
			}
		}

		pingCancel := c.startPingLoop(ctx, conn)
		// unblock ReadMessage on shutdown
		stop := context.AfterFunc(ctx, func() { conn.Close() })

		if err := c.readMessages(ctx, conn); err != nil && ctx.Err() == nil {
			c.log.WithError(err).WithField("url", c.opts.URL).Warn("websocket read loop ended")
		}

		stop()
		pingCancel()
		c.closeConn(conn)

		if ctx.Err() != nil {
			return
		}
		if waitForReconnect(ctx, c.opts.ReconnectDelay) {
			return
		}
	}
}

// Reconnect drops the current connection. Run dials again after the
// reconnect delay, and venues resend their snapshots on the new
// subscription.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket %s not connected", c.opts.URL)
	}
	return conn.Close()
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) WriteJSON(v any) error {
	conn := c.current()
	if conn == nil {
		return fmt.Errorf("websocket %s not connected", c.opts.URL)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (c *Client) WriteMessage(messageType int, data []byte) error {
	conn := c.current()
	if conn == nil {
		return fmt.Errorf("websocket %s not connected", c.opts.URL)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) closeConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) readMessages(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.opts.Handle != nil {
			c.opts.Handle(c, msg)
		}
	}
}

func (c *Client) startPingLoop(ctx context.Context, conn *websocket.Conn) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(c.opts.KeepAlive)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				var err error
				if c.opts.Ping != nil {
					err = c.opts.Ping(c)
				} else {
					c.writeMu.Lock()
					err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
					c.writeMu.Unlock()
				}
				if err != nil {
					c.log.WithError(err).Warn("failed to send websocket ping")
					return
				}
			}
		}
	}()
	return cancel
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
