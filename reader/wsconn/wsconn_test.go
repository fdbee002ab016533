package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bookflow/logger"
)

// echoServer answers every subscription with the connection number and the
// subscription it received.
func echoServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	var conns int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(&conns, 1)
		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"conn":%d,"sub":%s}`, n, sub)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, msgs <-chan string) string {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return ""
}

func TestClientSubscribesAndReconnects(t *testing.T) {
	srv, url := echoServer(t)
	defer srv.Close()

	msgs := make(chan string, 4)
	c := New(Options{
		URL:            url,
		ReconnectDelay: 10 * time.Millisecond,
		Subscribe: func(c *Client) error {
			return c.WriteJSON(map[string]string{"op": "subscribe"})
		},
		Handle: func(c *Client, msg []byte) { msgs <- string(msg) },
	}, logger.GetLogger().WithComponent("wsconn_test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	first := next(t, msgs)
	if !strings.Contains(first, `"conn":1`) || !strings.Contains(first, `"op":"subscribe"`) {
		t.Fatalf("unexpected first message: %s", first)
	}

	if err := c.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if second := next(t, msgs); !strings.Contains(second, `"conn":2`) {
		t.Fatalf("unexpected message after reconnect: %s", second)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if c.Connected() {
		t.Fatal("client still connected after shutdown")
	}
}

func TestClientWriteWithoutConnection(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"}, logger.GetLogger().WithComponent("wsconn_test"))
	if err := c.WriteJSON(map[string]string{}); err == nil {
		t.Fatal("expected error writing without a connection")
	}
	if err := c.Reconnect(); err == nil {
		t.Fatal("expected error reconnecting without a connection")
	}
}
