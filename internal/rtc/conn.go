// Package rtc abstracts the peer-connection primitive provided by the
// runtime. The session engine depends only on these interfaces; the
// pion-backed implementation lives alongside.
package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/openmeet/meshcall/internal/domain"
)

// RemoteTrack is an inbound media track delivered by the primitive.
// Read returns an error once the track has ended.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Read(b []byte) (n int, attributes interceptor.Attributes, err error)
}

// Channel is one independent media channel (transceiver) bound to a
// connection. A channel is created at most once per (peer, kind);
// enable/disable cycles reuse it so renegotiation is only ever
// triggered by creation.
type Channel interface {
	Kind() domain.MediaKind
	Active() bool
	// Activate replaces the outgoing track and restores sendrecv.
	// Never triggers renegotiation.
	Activate(track webrtc.TrackLocal) error
	// Deactivate clears the outgoing track and marks the channel
	// inactive. The channel itself survives for the connection's life.
	Deactivate() error
}

// Conn is the per-peer connection handle.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddChannel creates a new sendrecv channel seeded with track.
	// Creation fires the connection's negotiation-needed signal.
	AddChannel(kind domain.MediaKind, track webrtc.TrackLocal) (Channel, error)

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(RemoteTrack))
	OnNegotiationNeeded(func())

	Close() error
}

// Factory builds one Conn per remote participant.
type Factory interface {
	NewConn(cfg webrtc.Configuration) (Conn, error)
}
