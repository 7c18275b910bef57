// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrNotConnected     = errors.New("session is not connected")
	ErrAlreadyConnected = errors.New("session is already connected")
	ErrDuplicatePeer    = errors.New("duplicate peer entry")
)

// ParticipantID is assigned by the signaling server and immutable.
// Its lexicographic order is the tie-break key for negotiation glare.
type ParticipantID string

// Less reports whether id sorts before other. The smaller side of a
// peer pair is the one that sends the initial offer.
func (id ParticipantID) Less(other ParticipantID) bool {
	return string(id) < string(other)
}

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
	AvatarRef   string        `json:"avatar_ref,omitempty"`
}
