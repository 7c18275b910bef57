package domain

import "github.com/pion/webrtc/v4"

// MediaKind identifies one of the three independent per-peer channels.
type MediaKind int

const (
	KindMic MediaKind = iota
	KindCamera
	KindScreen
)

var kindNames = [...]string{"mic", "camera", "screen"}

func (k MediaKind) String() string {
	if k < KindMic || k > KindScreen {
		return "unknown"
	}
	return kindNames[k]
}

// CodecType maps the channel kind onto the transport media type.
func (k MediaKind) CodecType() webrtc.RTPCodecType {
	if k == KindMic {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// Kinds lists every media kind in fan-out order.
func Kinds() []MediaKind {
	return []MediaKind{KindMic, KindCamera, KindScreen}
}

// MediaDeviceState is the process-wide capture state. Only the media
// controller mutates it; the UI and the negotiation bootstrap read it.
type MediaDeviceState struct {
	MicEnabled    bool `json:"mic_enabled"`
	CameraEnabled bool `json:"camera_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

func (s MediaDeviceState) Enabled(k MediaKind) bool {
	switch k {
	case KindMic:
		return s.MicEnabled
	case KindCamera:
		return s.CameraEnabled
	case KindScreen:
		return s.ScreenSharing
	}
	return false
}
