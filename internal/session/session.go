package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/meshcall/internal/capture"
	"github.com/openmeet/meshcall/internal/config"
	"github.com/openmeet/meshcall/internal/domain"
	"github.com/openmeet/meshcall/internal/rtc"
	"github.com/openmeet/meshcall/internal/signal"
)

// Session is the top-level orchestrator: it owns the signaling
// transport, the peer registry and the media controller, and runs the
// dispatch loop that serializes all protocol handling.
type Session struct {
	cfg          *config.Config
	factory      rtc.Factory
	devices      capture.Provider
	newTransport func() Transport
	rtcConfig    webrtc.Configuration

	reg *registry

	mediaMu sync.Mutex
	media   *mediaController

	mu        sync.RWMutex
	state     domain.MeetingState
	lastErr   error
	self      domain.Participant
	transport Transport
	disp      *dispatcher
	cancel    context.CancelFunc
	loopDone  chan struct{}
	onChange  func()
}

// New wires a session. A nil factory, provider or transport constructor
// selects the production implementation.
func New(cfg *config.Config, factory rtc.Factory, devices capture.Provider, newTransport func() Transport) *Session {
	if factory == nil {
		factory = rtc.PionFactory{}
	}
	if newTransport == nil {
		newTransport = func() Transport {
			return signal.NewClient(cfg.Heartbeat, cfg.SendQueue)
		}
	}
	return &Session{
		cfg:          cfg,
		factory:      factory,
		devices:      devices,
		newTransport: newTransport,
		rtcConfig:    rtc.Configuration(cfg.ICEServers),
		reg:          newRegistry(),
		media:        newMediaController(),
		state:        domain.MeetingIdle,
	}
}

// OnChange registers the UI invalidation hook. Set it before Connect.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) State() domain.MeetingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the last terminal error, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Self returns this client's identity as assigned by the server.
func (s *Session) Self() domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// Participants is the live projection of remote participants.
func (s *Session) Participants() []domain.Participant {
	return s.reg.participants()
}

// ConnectionState reports the transport state of one peer connection.
func (s *Session) ConnectionState(id domain.ParticipantID) (domain.ConnectionState, bool) {
	e, ok := s.reg.get(id)
	if !ok {
		return domain.ConnClosed, false
	}
	return e.connectionState(), true
}

// RemoteStream returns the peer's current composite, nil when the peer
// has no live tracks.
func (s *Session) RemoteStream(id domain.ParticipantID) *RemoteStream {
	e, ok := s.reg.get(id)
	if !ok {
		return nil
	}
	return e.remoteStream()
}

// Devices enumerates the available capture devices.
func (s *Session) Devices() ([]capture.Device, error) {
	return s.devices.Devices()
}

// Connect opens the signaling transport and starts the dispatch loop.
// Recovery from a failed or closed session is a fresh Connect.
func (s *Session) Connect(ctx context.Context, room, token string) error {
	s.mu.Lock()
	if s.state == domain.MeetingConnecting || s.state == domain.MeetingConnected {
		s.mu.Unlock()
		return domain.ErrAlreadyConnected
	}
	s.state = domain.MeetingConnecting
	s.lastErr = nil
	t := s.newTransport()
	s.transport = t
	s.mu.Unlock()
	s.notify()

	endpoint, err := signal.BuildURL(s.cfg.Endpoint, room, token)
	if err != nil {
		err = fmt.Errorf("bad signaling endpoint: %w", err)
		s.fail(err)
		return err
	}
	if err := t.Dial(ctx, endpoint); err != nil {
		s.fail(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{ctx: loopCtx, events: make(chan event, 64)}
	done := make(chan struct{})

	s.mu.Lock()
	s.disp = d
	s.cancel = cancel
	s.loopDone = done
	s.mu.Unlock()

	go s.run(loopCtx, t, d, done)
	return nil
}

// Disconnect sends a best-effort leave, stops local capture, closes
// every peer connection and the transport, and resets to idle.
// In-flight negotiations are abandoned, never awaited.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == domain.MeetingIdle {
		s.mu.Unlock()
		return
	}
	t := s.transport
	cancel := s.cancel
	done := s.loopDone
	s.mu.Unlock()

	if t != nil {
		t.Send(signal.Leave())
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	s.stopAllCapture()
	s.teardownPeers()
	if t != nil {
		t.Close()
	}

	s.mu.Lock()
	s.state = domain.MeetingIdle
	s.lastErr = nil
	s.self = domain.Participant{}
	s.transport = nil
	s.disp = nil
	s.cancel = nil
	s.loopDone = nil
	s.mu.Unlock()
	log.Info().Str("module", "session").Msg("disconnected")
	s.notify()
}

// run is the dispatch loop: the single goroutine through which every
// signaling message and every primitive callback is handled.
func (s *Session) run(ctx context.Context, t Transport, d *dispatcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-t.Inbound():
			if !ok {
				s.transportDone(ctx, t)
				return
			}
			s.handleMessage(d, env)
		case ev := <-d.events:
			s.handleEvent(d, ev)
		}
	}
}

// transportDone handles the transport terminating on its own: a clean
// server close ends the session, anything else is a terminal fault.
// Never auto-reconnects.
func (s *Session) transportDone(ctx context.Context, t Transport) {
	select {
	case <-ctx.Done():
		return
	default:
	}
	s.teardownPeers()
	s.mu.Lock()
	if err := t.Err(); err != nil {
		s.state = domain.MeetingFailed
		s.lastErr = err
		log.Error().Err(err).Str("module", "session").Msg("transport failed")
	} else {
		s.state = domain.MeetingClosed
		log.Info().Str("module", "session").Msg("transport closed")
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleMessage(d *dispatcher, env signal.Envelope) {
	switch env.Type {
	case signal.TypeJoined:
		s.handleJoined(d, env)
	case signal.TypePeerJoined:
		s.handlePeerJoined(d, env)
	case signal.TypePeerLeft:
		s.closePeer(env.ParticipantID)
		s.notify()
	case signal.TypeOffer:
		s.handleOffer(env)
	case signal.TypeAnswer:
		s.handleAnswer(env)
	case signal.TypeCandidate:
		s.handleCandidate(env)
	case signal.TypeRoomClosed:
		s.fail(fmt.Errorf("room closed: %s", env.Reason))
	case signal.TypeError:
		s.fail(errors.New(env.Message))
	default:
		log.Warn().Str("module", "session").Str("type", env.Type).Msg("unknown signal")
	}
}

func (s *Session) handleEvent(d *dispatcher, ev event) {
	switch ev := ev.(type) {
	case evNegotiationNeeded:
		s.negotiate(ev.peer)
	case evConnState:
		e, ok := s.reg.get(ev.peer)
		if !ok {
			return
		}
		st := domain.ConnStateFromPeer(ev.state)
		e.setConnectionState(st)
		log.Info().Str("module", "session").Str("peer", string(ev.peer)).Str("state", st.String()).Msg("peer state")
		if st == domain.ConnClosed {
			s.closePeer(ev.peer)
		}
		s.notify()
	case evRemoteTrack:
		e, ok := s.reg.get(ev.peer)
		if !ok {
			return
		}
		e.addRemoteTrack(ev.track)
		go s.watchTrack(d, ev.peer, ev.track)
		log.Info().Str("module", "session").Str("peer", string(ev.peer)).Str("track_id", ev.track.ID()).Msg("remote track")
		s.notify()
	case evRemoteTrackEnded:
		if e, ok := s.reg.get(ev.peer); ok {
			e.dropRemoteTrack(ev.trackID)
			s.notify()
		}
	case evCaptureEnded:
		if err := s.disableKind(ev.kind); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("disable after capture end")
		}
	}
}

func (s *Session) handleJoined(d *dispatcher, env signal.Envelope) {
	s.mu.Lock()
	s.self = domain.Participant{ID: env.ParticipantID, DisplayName: s.cfg.DisplayName}
	s.state = domain.MeetingConnected
	s.mu.Unlock()
	log.Info().Str("module", "session").Str("self", string(env.ParticipantID)).
		Int("roster", len(env.Participants)).Msg("joined room")

	for _, p := range env.Participants {
		if p.ID == env.ParticipantID {
			continue
		}
		s.addPeer(d, p)
	}
	s.notify()
}

func (s *Session) handlePeerJoined(d *dispatcher, env signal.Envelope) {
	if env.Participant == nil {
		log.Warn().Str("module", "session").Msg("peer_joined without participant")
		return
	}
	s.addPeer(d, *env.Participant)
	s.notify()
}

// addPeer creates the one connection for a remote participant and wires
// its four observers into the dispatch loop, then seeds the current
// local media. The initial handshake starts via channel creation, or
// via an explicit bootstrap round when this side has no media yet.
func (s *Session) addPeer(d *dispatcher, p domain.Participant) {
	selfID := s.Self().ID
	conn, err := s.factory.NewConn(s.rtcConfig)
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(p.ID)).Msg("new peer connection")
		return
	}

	e := &entry{
		participant: p,
		conn:        conn,
		set:         newTransceiverSet(conn),
		initiator:   selfID.Less(p.ID),
		state:       domain.ConnNew,
		streamID:    uuid.NewString(),
	}

	id := p.ID
	// Captured here: candidates may still trickle after Disconnect has
	// released the session's reference, and Send on a closed transport
	// is a safe drop.
	tp := s.transportRef()
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		// Trickle: one message per candidate, no batching.
		tp.Send(signal.Candidate(id, ci))
	})
	conn.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		d.emit(evConnState{peer: id, state: st})
	})
	conn.OnTrack(func(track rtc.RemoteTrack) {
		d.emit(evRemoteTrack{peer: id, track: track})
	})
	conn.OnNegotiationNeeded(func() {
		d.emit(evNegotiationNeeded{peer: id})
	})

	if err := s.reg.add(e); err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(p.ID)).Msg("registry add")
		_ = conn.Close()
		return
	}

	created := 0
	tracks := s.activeTracks()
	for _, kind := range domain.Kinds() {
		track, ok := tracks[kind]
		if !ok {
			continue
		}
		c, err := e.set.attach(kind, track.Local)
		if err != nil {
			log.Error().Err(err).Str("module", "session").Str("peer", string(id)).Str("kind", kind.String()).Msg("seed attach")
			continue
		}
		if c {
			created++
		}
	}
	if e.initiator && created == 0 {
		s.negotiate(id)
	}
}

// closePeer tears one peer down. Idempotent: closing an unknown or
// already-closed peer is a safe no-op.
func (s *Session) closePeer(id domain.ParticipantID) {
	e, ok := s.reg.remove(id)
	if !ok {
		return
	}
	if err := e.conn.Close(); err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(id)).Msg("close peer connection")
	}
}

func (s *Session) handleOffer(env signal.Envelope) {
	e, ok := s.reg.get(env.From)
	if !ok {
		log.Warn().Str("module", "session").Str("peer", string(env.From)).Msg("offer from unknown peer")
		return
	}

	// Offer glare after the first exchange: both sides may renegotiate,
	// so crossed offers are resolved by the same tie-break as discovery.
	// The initiator keeps its outstanding offer and drops the peer's;
	// the other side rolls its own offer back, answers, and re-runs the
	// abandoned round through the pending flag.
	if e.conn.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if e.initiator {
			log.Warn().Str("module", "session").Str("peer", string(env.From)).Msg("crossed offer dropped")
			return
		}
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := e.conn.SetLocalDescription(rollback); err != nil {
			log.Error().Err(err).Str("module", "session").Str("peer", string(env.From)).Msg("rollback local offer")
			return
		}
		e.pending = true
		log.Info().Str("module", "session").Str("peer", string(env.From)).Msg("local offer rolled back")
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: env.SDP}
	if err := e.conn.SetRemoteDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(env.From)).Msg("apply offer")
		return
	}
	e.remoteSet = true
	s.replayCandidates(e)

	answer, err := e.conn.CreateAnswer()
	if err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(env.From)).Msg("create answer")
		return
	}
	if err := e.conn.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(env.From)).Msg("set local answer")
		return
	}
	s.transport.Send(signal.Answer(env.From, answer.SDP))
	log.Info().Str("module", "session").Str("peer", string(env.From)).Msg("answer sent")

	// Channels seeded while we waited for this offer negotiate now.
	s.resumePending(env.From)
}

func (s *Session) handleAnswer(env signal.Envelope) {
	e, ok := s.reg.get(env.From)
	if !ok {
		log.Warn().Str("module", "session").Str("peer", string(env.From)).Msg("answer from unknown peer")
		return
	}
	// Only valid while an offer of ours is outstanding; anything else
	// is stale or duplicated and must not touch the description.
	if e.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		log.Warn().Str("module", "session").Str("peer", string(env.From)).
			Str("state", e.conn.SignalingState().String()).Msg("stale answer discarded")
		return
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: env.SDP}
	if err := e.conn.SetRemoteDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "session").Str("peer", string(env.From)).Msg("apply answer")
		return
	}
	e.remoteSet = true
	s.replayCandidates(e)
	s.resumePending(env.From)
}

func (s *Session) handleCandidate(env signal.Envelope) {
	e, ok := s.reg.get(env.From)
	if !ok {
		log.Warn().Str("module", "session").Str("peer", string(env.From)).Msg("candidate from unknown peer")
		return
	}
	if env.Candidate == nil {
		log.Warn().Str("module", "session").Str("peer", string(env.From)).Msg("candidate without payload")
		return
	}
	// A candidate arriving before the remote description is buffered
	// and replayed once the description lands, not dropped.
	if e.conn.RemoteDescription() == nil {
		e.candidates = append(e.candidates, *env.Candidate)
		log.Debug().Str("module", "session").Str("peer", string(env.From)).Msg("candidate buffered")
		return
	}
	if err := e.conn.AddICECandidate(*env.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("peer", string(env.From)).Msg("add ice candidate")
	}
}

func (s *Session) replayCandidates(e *entry) {
	for _, ci := range e.candidates {
		if err := e.conn.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("peer", string(e.participant.ID)).Msg("replay ice candidate")
		}
	}
	e.candidates = nil
}

// watchTrack drains the inbound track until it ends, then reports back
// through the loop so the composite is rebuilt without the track.
func (s *Session) watchTrack(d *dispatcher, peer domain.ParticipantID, track rtc.RemoteTrack) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			d.emit(evRemoteTrackEnded{peer: peer, trackID: track.ID()})
			return
		}
	}
}

func (s *Session) teardownPeers() {
	for _, e := range s.reg.drain() {
		if err := e.conn.Close(); err != nil {
			log.Error().Err(err).Str("module", "session").Str("peer", string(e.participant.ID)).Msg("close peer connection")
		}
	}
}

func (s *Session) fail(err error) {
	s.teardownPeers()
	s.mu.Lock()
	s.state = domain.MeetingFailed
	s.lastErr = err
	s.mu.Unlock()
	log.Error().Err(err).Str("module", "session").Msg("session failed")
	s.notify()
}

func (s *Session) transportRef() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

func (s *Session) dispatcherRef() *dispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disp
}

func (s *Session) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
