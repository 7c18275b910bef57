package session

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/meshcall/internal/domain"
	"github.com/openmeet/meshcall/internal/rtc"
)

// entry is the one record per active remote participant, owned
// exclusively by the registry.
type entry struct {
	participant domain.Participant
	conn        rtc.Conn
	set         *transceiverSet

	// initiator: this side sorts lexicographically before the peer and
	// therefore sends the initial offer.
	initiator bool

	// Negotiation bookkeeping, touched only on the dispatch goroutine.
	negotiating bool
	pending     bool
	remoteSet   bool
	candidates  []webrtc.ICECandidateInit

	// Projection state, read from caller goroutines.
	mu     sync.Mutex
	state  domain.ConnectionState
	remote *RemoteStream

	streamID string
}

func (e *entry) connectionState() domain.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *entry) setConnectionState(s domain.ConnectionState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *entry) remoteStream() *RemoteStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

func (e *entry) addRemoteTrack(t rtc.RemoteTrack) {
	e.mu.Lock()
	if e.remote == nil {
		e.remote = &RemoteStream{ID: e.streamID}
	}
	e.remote = e.remote.withTrack(t)
	e.mu.Unlock()
}

func (e *entry) dropRemoteTrack(trackID string) {
	e.mu.Lock()
	if e.remote != nil {
		e.remote = e.remote.withoutTrack(trackID)
	}
	e.mu.Unlock()
}

// registry owns every entry. All per-peer connection state is reached
// through it, never through ambient globals.
type registry struct {
	mu      sync.RWMutex
	entries map[domain.ParticipantID]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[domain.ParticipantID]*entry)}
}

// add rejects duplicates: two entries for one participant is a bug
// condition, not a valid state.
func (r *registry) add(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := e.participant.ID
	if _, ok := r.entries[id]; ok {
		return domain.ErrDuplicatePeer
	}
	r.entries[id] = e
	log.Info().Str("module", "session.registry").Str("peer", string(id)).Bool("initiator", e.initiator).Msg("peer entry created")
	return nil
}

func (r *registry) get(id domain.ParticipantID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// remove detaches the entry; the caller closes the handle. A miss is a
// safe no-op.
func (r *registry) remove(id domain.ParticipantID) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	log.Info().Str("module", "session.registry").Str("peer", string(id)).Msg("peer entry removed")
	return e, true
}

func (r *registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *registry) participants() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.participant)
	}
	return out
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// drain empties the registry and returns the removed entries.
func (r *registry) drain() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, e)
		delete(r.entries, id)
	}
	return out
}
