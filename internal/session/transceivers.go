package session

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/meshcall/internal/domain"
	"github.com/openmeet/meshcall/internal/rtc"
)

// transceiverSet is the per-peer record of up to three media channels.
// A channel is created at most once per kind for the life of the
// connection: creation is the only renegotiation trigger, so toggling
// media any number of times costs at most three rounds per peer.
type transceiverSet struct {
	conn rtc.Conn

	mu       sync.Mutex
	channels map[domain.MediaKind]rtc.Channel
}

func newTransceiverSet(conn rtc.Conn) *transceiverSet {
	return &transceiverSet{
		conn:     conn,
		channels: make(map[domain.MediaKind]rtc.Channel),
	}
}

// attach routes a local track to the peer. First call for a kind
// creates the channel (fires the connection's negotiation-needed
// signal); later calls swap the track in place, silently.
func (s *transceiverSet) attach(kind domain.MediaKind, track webrtc.TrackLocal) (created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.channels[kind]; ok {
		return false, ch.Activate(track)
	}
	ch, err := s.conn.AddChannel(kind, track)
	if err != nil {
		return false, err
	}
	s.channels[kind] = ch
	return true, nil
}

// detach deactivates the channel without destroying it. Recreating a
// channel would force an unnecessary renegotiation round.
func (s *transceiverSet) detach(kind domain.MediaKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[kind]
	if !ok {
		return nil
	}
	if err := ch.Deactivate(); err != nil {
		log.Error().Err(err).Str("module", "session").Str("kind", kind.String()).Msg("deactivate channel")
		return err
	}
	return nil
}

func (s *transceiverSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}
