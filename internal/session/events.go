package session

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/openmeet/meshcall/internal/domain"
	"github.com/openmeet/meshcall/internal/rtc"
)

// Primitive callbacks are not handled in place: they are converted to
// typed events and funneled through the dispatch loop, so per-peer
// ordering and the negotiation marker need no locking of their own.
type event interface {
	isEvent()
}

type evNegotiationNeeded struct {
	peer domain.ParticipantID
}

type evConnState struct {
	peer  domain.ParticipantID
	state webrtc.PeerConnectionState
}

type evRemoteTrack struct {
	peer  domain.ParticipantID
	track rtc.RemoteTrack
}

type evRemoteTrackEnded struct {
	peer    domain.ParticipantID
	trackID string
}

// evCaptureEnded reports a local capture track ending outside the
// controller's control (OS-level "stop sharing").
type evCaptureEnded struct {
	kind domain.MediaKind
}

func (evNegotiationNeeded) isEvent() {}
func (evConnState) isEvent()         {}
func (evRemoteTrack) isEvent()       {}
func (evRemoteTrackEnded) isEvent()  {}
func (evCaptureEnded) isEvent()      {}

// dispatcher carries the per-connect event channel and its lifetime.
// Entries wired during one Connect hold a reference, so callbacks from
// an abandoned epoch drain harmlessly.
type dispatcher struct {
	ctx    context.Context
	events chan event
}

func (d *dispatcher) emit(ev event) {
	select {
	case d.events <- ev:
	case <-d.ctx.Done():
	}
}
