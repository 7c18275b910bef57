package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startServer runs one upgrading handler; handle owns the server side
// of the socket for the duration of the test.
func startServer(t *testing.T, handle func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTest(t *testing.T, c *Client, endpoint string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Dial(ctx, endpoint); err != nil {
		t.Fatalf("dial: %v", err)
	}
}

func TestInboundDelivery(t *testing.T) {
	endpoint := startServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(Envelope{Type: TypeJoined, ParticipantID: "p1"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewClient(time.Minute, 8)
	dialTest(t, c, endpoint)
	defer c.Close()

	select {
	case env := <-c.Inbound():
		if env.Type != TypeJoined || env.ParticipantID != "p1" {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound envelope")
	}
}

func TestSendReachesServer(t *testing.T) {
	got := make(chan Envelope, 1)
	endpoint := startServer(t, func(conn *websocket.Conn) {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		got <- env
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewClient(time.Minute, 8)
	dialTest(t, c, endpoint)
	defer c.Close()

	c.Send(Offer("p2", "v=0"))
	select {
	case env := <-got:
		if env.Type != TypeOffer || env.To != "p2" || env.SDP != "v=0" {
			t.Errorf("envelope = %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the server")
	}
}

func TestHeartbeat(t *testing.T) {
	pings := make(chan struct{}, 4)
	endpoint := startServer(t, func(conn *websocket.Conn) {
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Type == TypePing {
				pings <- struct{}{}
			}
		}
	})

	c := NewClient(20*time.Millisecond, 8)
	dialTest(t, c, endpoint)
	defer c.Close()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat observed")
	}
}

func TestCleanServerClose(t *testing.T) {
	endpoint := startServer(t, func(conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewClient(time.Minute, 8)
	dialTest(t, c, endpoint)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transport never terminated")
	}
	if err := c.Err(); err != nil {
		t.Errorf("err after clean close = %v, want nil", err)
	}
	// The inbound channel drains and closes.
	for range c.Inbound() {
	}
}

func TestAbruptCloseIsFault(t *testing.T) {
	endpoint := startServer(t, func(conn *websocket.Conn) {
		_ = conn.UnderlyingConn().Close()
	})

	c := NewClient(time.Minute, 8)
	dialTest(t, c, endpoint)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transport never terminated")
	}
	if c.Err() == nil {
		t.Error("abnormal close reported no error")
	}
}

func TestCloseIdempotentAndSendDropped(t *testing.T) {
	endpoint := startServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewClient(time.Minute, 8)
	dialTest(t, c, endpoint)

	c.Close()
	c.Close()
	c.Send(Leave())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
}

func TestDialFailure(t *testing.T) {
	c := NewClient(time.Minute, 8)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Dial(ctx, "ws://127.0.0.1:1/api/ws/signal"); err == nil {
		t.Fatal("expected dial error")
	}
}
