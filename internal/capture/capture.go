// Package capture owns local device acquisition. The session engine
// talks to a Provider; the mediadevices-backed implementation lives in
// devices.go.
package capture

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/openmeet/meshcall/internal/domain"
)

// Device describes one available capture device.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// Track is one acquired local capture track, shared by reference across
// every peer connection. Only the media controller starts and stops it.
type Track struct {
	Kind  domain.MediaKind
	Local webrtc.TrackLocal

	closer func() error

	mu      sync.Mutex
	onEnded func()
	ended   bool
}

func NewTrack(kind domain.MediaKind, local webrtc.TrackLocal, closer func() error) *Track {
	return &Track{Kind: kind, Local: local, closer: closer}
}

// OnEnded registers the callback fired when capture ends outside the
// controller's control (the OS-level "stop sharing" affordance).
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

// SignalEnded fires the ended callback at most once. Called by provider
// implementations.
func (t *Track) SignalEnded() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Track) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer()
}

// Provider acquires capture devices. Acquire failures are treated as
// permission denials by the caller: the toggle reverts silently.
type Provider interface {
	Acquire(ctx context.Context, kind domain.MediaKind) (*Track, error)
	Devices() ([]Device, error)
	// ResetPermissions is the best-effort permission-reset primitive,
	// invoked once after a denial before a single retry.
	ResetPermissions(ctx context.Context) error
}
