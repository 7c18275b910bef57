// Package signal owns the wire protocol and the websocket transport to
// the signaling endpoint.
package signal

import (
	"net/url"

	"github.com/pion/webrtc/v4"

	"github.com/openmeet/meshcall/internal/domain"
)

// Message types on the wire. Outbound: ping, offer, answer, candidate,
// leave. Inbound: joined, peer_joined, peer_left, offer, answer,
// candidate, room_closed, error.
const (
	TypePing       = "ping"
	TypeOffer      = "offer"
	TypeAnswer     = "answer"
	TypeCandidate  = "candidate"
	TypeLeave      = "leave"
	TypeJoined     = "joined"
	TypePeerJoined = "peer_joined"
	TypePeerLeft   = "peer_left"
	TypeRoomClosed = "room_closed"
	TypeError      = "error"
)

// Envelope is the flat tagged union carried over the socket. Each
// variant populates only the fields it needs.
type Envelope struct {
	Type          string                   `json:"type"`
	To            domain.ParticipantID     `json:"to,omitempty"`
	From          domain.ParticipantID     `json:"from,omitempty"`
	SDP           string                   `json:"sdp,omitempty"`
	Candidate     *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	ParticipantID domain.ParticipantID     `json:"participant_id,omitempty"`
	Participant   *domain.Participant      `json:"participant,omitempty"`
	Participants  []domain.Participant     `json:"participants,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	Message       string                   `json:"message,omitempty"`
}

func Ping() Envelope {
	return Envelope{Type: TypePing}
}

func Offer(to domain.ParticipantID, sdp string) Envelope {
	return Envelope{Type: TypeOffer, To: to, SDP: sdp}
}

func Answer(to domain.ParticipantID, sdp string) Envelope {
	return Envelope{Type: TypeAnswer, To: to, SDP: sdp}
}

func Candidate(to domain.ParticipantID, ci webrtc.ICECandidateInit) Envelope {
	return Envelope{Type: TypeCandidate, To: to, Candidate: &ci}
}

func Leave() Envelope {
	return Envelope{Type: TypeLeave}
}

// BuildURL appends room and token query parameters to the configured
// signaling endpoint.
func BuildURL(endpoint, room, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("room", room)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
