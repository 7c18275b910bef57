package session

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/meshcall/internal/domain"
	"github.com/openmeet/meshcall/internal/signal"
)

// negotiate runs one offer round toward a peer. Runs only on the
// dispatch goroutine, which serializes it per peer.
//
// Preconditions, checked in order:
//   - no round already in flight for this peer,
//   - signaling sub-state is stable,
//   - glare rule: until the first remote description has been applied,
//     only the initiator (smaller participant id) may offer; the other
//     side waits to receive one.
//
// A request refused by the first two checks sets the pending flag and
// is re-run once the in-flight round completes, so a media change
// landing mid-negotiation is not silently lost.
func (s *Session) negotiate(id domain.ParticipantID) {
	e, ok := s.reg.get(id)
	if !ok {
		return
	}
	if e.negotiating {
		e.pending = true
		return
	}
	if e.conn.SignalingState() != webrtc.SignalingStateStable {
		e.pending = true
		return
	}
	if !e.initiator && !e.remoteSet {
		// Channels seeded before the first remote offer negotiate
		// right after it is answered.
		e.pending = true
		log.Debug().Str("module", "session.negotiate").Str("peer", string(id)).Msg("waiting for remote offer")
		return
	}

	e.negotiating = true
	defer func() { e.negotiating = false }()

	offer, err := e.conn.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "session.negotiate").Str("peer", string(id)).Msg("create offer")
		return
	}
	if err := e.conn.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "session.negotiate").Str("peer", string(id)).Msg("set local offer")
		return
	}
	s.transport.Send(signal.Offer(id, offer.SDP))
	log.Info().Str("module", "session.negotiate").Str("peer", string(id)).Msg("offer sent")
}

// resumePending runs the one follow-up round deferred while a
// negotiation was in flight.
func (s *Session) resumePending(id domain.ParticipantID) {
	e, ok := s.reg.get(id)
	if !ok || !e.pending {
		return
	}
	e.pending = false
	s.negotiate(id)
}
