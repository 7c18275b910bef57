package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// Client is the one bidirectional channel to the signaling endpoint.
// Send is fire-and-forget: frames are silently dropped once the socket
// is closed or the bounded send queue is full, so callers must not
// depend on delivery. The client never reconnects on its own; failure
// is surfaced once through Done/Err.
type Client struct {
	heartbeat time.Duration

	conn    *websocket.Conn
	send    chan []byte
	inbound chan Envelope
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func NewClient(heartbeat time.Duration, queue int) *Client {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	if queue <= 0 {
		queue = 32
	}
	return &Client{
		heartbeat: heartbeat,
		send:      make(chan []byte, queue),
		inbound:   make(chan Envelope, queue),
		done:      make(chan struct{}),
	}
}

// Dial opens the socket and starts the read/write pumps.
func (c *Client) Dial(ctx context.Context, endpoint string) error {
	log.Info().Str("module", "signal").Str("endpoint", endpoint).Msg("dialing signaling server")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("signaling dial: %w", err)
	}
	c.conn = conn

	go c.writePump()
	go c.readPump()
	return nil
}

// Inbound delivers messages in arrival order. The channel is closed
// after the transport terminates.
func (c *Client) Inbound() <-chan Envelope { return c.inbound }

// Done is closed when the transport has terminated, cleanly or not.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the terminal fault, or nil after a clean shutdown
// (close codes 1000/1001).
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send marshals and queues one envelope. Dropped without error when
// the transport is closed or the queue is full.
func (c *Client) Send(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal outbound")
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("send queue full, frame dropped")
	}
}

// Close performs a clean shutdown. Safe to call more than once.
func (c *Client) Close() {
	c.shutdown(nil)
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = cause
	c.mu.Unlock()

	if c.conn != nil {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.conn.Close()
	}
	close(c.done)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	ping, _ := json.Marshal(Ping())
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.write(data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("write failed")
				c.shutdown(fmt.Errorf("signaling write: %w", err))
				return
			}
		case <-ticker.C:
			if err := c.write(ping); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("heartbeat failed")
				c.shutdown(fmt.Errorf("signaling heartbeat: %w", err))
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readPump() {
	defer close(c.inbound)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Str("module", "signal").Msg("clean close from server")
				c.shutdown(nil)
			} else {
				c.mu.Lock()
				alreadyClosed := c.closed
				c.mu.Unlock()
				if alreadyClosed {
					return
				}
				log.Error().Err(err).Str("module", "signal").Msg("read failed")
				c.shutdown(fmt.Errorf("signaling read: %w", err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad json frame")
			continue
		}
		select {
		case c.inbound <- env:
		case <-c.done:
			return
		}
	}
}
