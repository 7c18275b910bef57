package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/meshcall/internal/config"
	"github.com/openmeet/meshcall/internal/domain"
)

// Configuration converts configured ICE servers into the primitive's
// form.
func Configuration(servers []config.ICEServer) webrtc.Configuration {
	out := webrtc.Configuration{}
	for _, s := range servers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// PionFactory creates pion-backed connections.
type PionFactory struct{}

func (PionFactory) NewConn(cfg webrtc.Configuration) (Conn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &pionConn{pc: pc}, nil
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *pionConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *pionConn) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *pionConn) RemoteDescription() *webrtc.SessionDescription {
	return c.pc.RemoteDescription()
}

func (c *pionConn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *pionConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *pionConn) AddChannel(kind domain.MediaKind, track webrtc.TrackLocal) (Channel, error) {
	tr, err := c.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("module", "rtc").Str("kind", kind.String()).Msg("channel created")
	return &pionChannel{kind: kind, tr: tr, active: true}, nil
}

func (c *pionConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *pionConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *pionConn) OnTrack(fn func(RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (c *pionConn) OnNegotiationNeeded(fn func()) {
	c.pc.OnNegotiationNeeded(fn)
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

// pionChannel wraps one transceiver. Direction intent is tracked here:
// clearing the outgoing track is what actually silences the sender, and
// pion folds the direction into whichever offer comes next.
type pionChannel struct {
	kind domain.MediaKind
	tr   *webrtc.RTPTransceiver

	mu     sync.Mutex
	active bool
}

func (ch *pionChannel) Kind() domain.MediaKind { return ch.kind }

func (ch *pionChannel) Active() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.active
}

func (ch *pionChannel) Activate(track webrtc.TrackLocal) error {
	if err := ch.tr.Sender().ReplaceTrack(track); err != nil {
		return err
	}
	ch.mu.Lock()
	ch.active = true
	ch.mu.Unlock()
	return nil
}

func (ch *pionChannel) Deactivate() error {
	if err := ch.tr.Sender().ReplaceTrack(nil); err != nil {
		return err
	}
	ch.mu.Lock()
	ch.active = false
	ch.mu.Unlock()
	return nil
}
