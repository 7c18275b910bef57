package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/openmeet/meshcall/internal/rtc"
)

// Composite streams are rebuilt, never mutated, on every membership
// change: observers relying on reference identity to detect change are
// then always correct.

// LocalStream is the composite of all currently enabled local capture
// tracks.
type LocalStream struct {
	ID     string
	Tracks []webrtc.TrackLocal
}

// RemoteStream is the composite of all live inbound tracks from one
// peer. The engine owns the read side of every track (it drains each
// one to detect its end); consumers observe membership through
// composite rebuilds and must not call Read on the tracks themselves.
type RemoteStream struct {
	ID     string
	Tracks []rtc.RemoteTrack
}

func (s *RemoteStream) withTrack(t rtc.RemoteTrack) *RemoteStream {
	out := &RemoteStream{ID: s.ID, Tracks: make([]rtc.RemoteTrack, 0, len(s.Tracks)+1)}
	out.Tracks = append(out.Tracks, s.Tracks...)
	out.Tracks = append(out.Tracks, t)
	return out
}

// withoutTrack returns nil when the composite would become empty, so no
// dangling empty container survives.
func (s *RemoteStream) withoutTrack(trackID string) *RemoteStream {
	out := &RemoteStream{ID: s.ID}
	for _, t := range s.Tracks {
		if t.ID() != trackID {
			out.Tracks = append(out.Tracks, t)
		}
	}
	if len(out.Tracks) == 0 {
		return nil
	}
	return out
}
