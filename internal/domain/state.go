package domain

import "github.com/pion/webrtc/v4"

// MeetingState is the top-level session lifecycle.
type MeetingState int

const (
	MeetingIdle MeetingState = iota
	MeetingConnecting
	MeetingConnected
	MeetingFailed
	MeetingClosed
)

var meetingNames = [...]string{"idle", "connecting", "connected", "failed", "closed"}

func (s MeetingState) String() string {
	if s < MeetingIdle || s > MeetingClosed {
		return "unknown"
	}
	return meetingNames[s]
}

// ConnectionState mirrors the transport state of one peer connection.
// Forward-only except disconnected -> connected (transport recovery);
// closed is terminal and removes the registry entry.
type ConnectionState int

const (
	ConnNew ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

var connNames = [...]string{"new", "connecting", "connected", "disconnected", "failed", "closed"}

func (s ConnectionState) String() string {
	if s < ConnNew || s > ConnClosed {
		return "unknown"
	}
	return connNames[s]
}

// ConnStateFromPeer converts the primitive's state enum.
func ConnStateFromPeer(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	default:
		return ConnClosed
	}
}
