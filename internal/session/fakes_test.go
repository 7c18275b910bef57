package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/openmeet/meshcall/internal/capture"
	"github.com/openmeet/meshcall/internal/domain"
	"github.com/openmeet/meshcall/internal/rtc"
	"github.com/openmeet/meshcall/internal/signal"
)

// fakeTransport records outbound envelopes and lets tests inject
// inbound ones.
type fakeTransport struct {
	inbound chan signal.Envelope
	done    chan struct{}

	mu        sync.Mutex
	sent      []signal.Envelope
	err       error
	closed    bool
	dialErr   error
	dialCount int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan signal.Envelope, 64),
		done:    make(chan struct{}),
	}
}

func (t *fakeTransport) Dial(_ context.Context, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialCount++
	return t.dialErr
}

func (t *fakeTransport) Inbound() <-chan signal.Envelope { return t.inbound }
func (t *fakeTransport) Done() <-chan struct{}           { return t.done }

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTransport) Send(env signal.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.sent = append(t.sent, env)
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.inbound)
	close(t.done)
}

// fail terminates the transport with an error, as a read fault would.
func (t *fakeTransport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.err = err
	close(t.inbound)
	close(t.done)
}

func (t *fakeTransport) sentOfType(kind string) []signal.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []signal.Envelope
	for _, env := range t.sent {
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

// fakeFactory hands out fakeConns in creation order.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) NewConn(_ webrtc.Configuration) (rtc.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{sigState: webrtc.SignalingStateStable}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fakeConn struct {
	mu       sync.Mutex
	sigState webrtc.SignalingState
	local    *webrtc.SessionDescription
	remote   *webrtc.SessionDescription

	offerSeq        int
	setRemoteCalls  int
	rollbackCalls   int
	addedCandidates []webrtc.ICECandidateInit
	channels        []*fakeChannel
	closeCalls      int

	onICE        func(webrtc.ICECandidateInit)
	onConnState  func(webrtc.PeerConnectionState)
	onTrack      func(rtc.RemoteTrack)
	onNegotiated func()
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerSeq++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-sdp-%d", c.offerSeq),
	}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (c *fakeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		c.local = &d
		c.sigState = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeRollback:
		c.rollbackCalls++
		c.local = nil
		c.sigState = webrtc.SignalingStateStable
	default:
		c.local = &d
		c.sigState = webrtc.SignalingStateStable
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setRemoteCalls++
	c.remote = &d
	if d.Type == webrtc.SDPTypeOffer {
		c.sigState = webrtc.SignalingStateHaveRemoteOffer
	} else {
		c.sigState = webrtc.SignalingStateStable
	}
	return nil
}

func (c *fakeConn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *fakeConn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *fakeConn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sigState
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addedCandidates = append(c.addedCandidates, ci)
	return nil
}

func (c *fakeConn) AddChannel(kind domain.MediaKind, _ webrtc.TrackLocal) (rtc.Channel, error) {
	c.mu.Lock()
	ch := &fakeChannel{kind: kind, active: true}
	c.channels = append(c.channels, ch)
	fire := c.onNegotiated
	c.mu.Unlock()
	if fire != nil {
		fire()
	}
	return ch, nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.onConnState = fn
}
func (c *fakeConn) OnTrack(fn func(rtc.RemoteTrack)) { c.onTrack = fn }
func (c *fakeConn) OnNegotiationNeeded(fn func())    { c.onNegotiated = fn }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	c.sigState = webrtc.SignalingStateClosed
	return nil
}

func (c *fakeConn) channelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

func (c *fakeConn) channelOf(kind domain.MediaKind) *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		if ch.kind == kind {
			return ch
		}
	}
	return nil
}

func (c *fakeConn) remoteCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setRemoteCalls
}

func (c *fakeConn) candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.addedCandidates...)
}

type fakeChannel struct {
	kind domain.MediaKind

	mu              sync.Mutex
	active          bool
	activateCalls   int
	deactivateCalls int
}

func (ch *fakeChannel) Kind() domain.MediaKind { return ch.kind }

func (ch *fakeChannel) Active() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.active
}

func (ch *fakeChannel) Activate(_ webrtc.TrackLocal) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.active = true
	ch.activateCalls++
	return nil
}

func (ch *fakeChannel) Deactivate() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.active = false
	ch.deactivateCalls++
	return nil
}

// fakeProvider acquires static-sample tracks, optionally denying a
// kind.
type fakeProvider struct {
	mu       sync.Mutex
	deny     map[domain.MediaKind]bool
	acquires int
	resets   int
	tracks   []*capture.Track
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{deny: make(map[domain.MediaKind]bool)}
}

func (p *fakeProvider) Acquire(_ context.Context, kind domain.MediaKind) (*capture.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.deny[kind] {
		return nil, fmt.Errorf("device access refused")
	}
	mime := webrtc.MimeTypeOpus
	if kind.CodecType() == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		fmt.Sprintf("%s-track", kind),
		"local-stream",
	)
	if err != nil {
		return nil, err
	}
	t := capture.NewTrack(kind, local, nil)
	p.tracks = append(p.tracks, t)
	return t, nil
}

func (p *fakeProvider) Devices() ([]capture.Device, error) {
	return []capture.Device{{ID: "dev0", Label: "fake mic", Kind: "audioinput"}}, nil
}

func (p *fakeProvider) ResetPermissions(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	return nil
}

func (p *fakeProvider) lastTrack() *capture.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tracks) == 0 {
		return nil
	}
	return p.tracks[len(p.tracks)-1]
}

// fakeRemoteTrack ends when endc is closed.
type fakeRemoteTrack struct {
	id       string
	streamID string
	kind     webrtc.RTPCodecType
	endc     chan struct{}
}

func newFakeRemoteTrack(id string) *fakeRemoteTrack {
	return &fakeRemoteTrack{id: id, streamID: "remote-stream", kind: webrtc.RTPCodecTypeAudio, endc: make(chan struct{})}
}

func (t *fakeRemoteTrack) ID() string                { return t.id }
func (t *fakeRemoteTrack) StreamID() string          { return t.streamID }
func (t *fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeRemoteTrack) Read(_ []byte) (int, interceptor.Attributes, error) {
	<-t.endc
	return 0, nil, fmt.Errorf("track ended")
}
