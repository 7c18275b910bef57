// Package session implements the call engine: one signaling channel, a
// full mesh of peer connections, three independent media channels per
// peer, and a single dispatch loop coordinating all of it.
package session

import (
	"context"

	"github.com/openmeet/meshcall/internal/signal"
)

// Transport is the session's view of the signaling channel. One
// instance per Connect; it is never redialed.
type Transport interface {
	Dial(ctx context.Context, endpoint string) error
	// Inbound delivers messages in arrival order and is closed when
	// the transport terminates.
	Inbound() <-chan signal.Envelope
	// Done is closed on termination; Err distinguishes a clean close
	// (nil) from a fault.
	Done() <-chan struct{}
	Err() error
	// Send is fire-and-forget.
	Send(signal.Envelope)
	Close()
}
