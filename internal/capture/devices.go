package capture

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/meshcall/internal/domain"

	// Driver registration.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

// MediaDevices is the real capture provider backed by pion/mediadevices.
type MediaDevices struct {
	selector *mediadevices.CodecSelector
}

func NewMediaDevices() (*MediaDevices, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000

	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vp8Params.BitRate = 500_000

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
		mediadevices.WithVideoEncoders(&vp8Params),
	)
	return &MediaDevices{selector: selector}, nil
}

func (m *MediaDevices) Acquire(_ context.Context, kind domain.MediaKind) (*Track, error) {
	var (
		stream mediadevices.MediaStream
		err    error
	)
	switch kind {
	case domain.KindMic:
		stream, err = mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Audio: func(c *mediadevices.MediaTrackConstraints) {
				c.SampleRate = prop.Int(48000)
				c.ChannelCount = prop.Int(1)
			},
			Codec: m.selector,
		})
	case domain.KindCamera:
		stream, err = mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.Width = prop.Int(640)
				c.Height = prop.Int(480)
				c.FrameRate = prop.Float(30)
			},
			Codec: m.selector,
		})
	case domain.KindScreen:
		stream, err = mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.FrameRate = prop.Float(15)
			},
			Codec: m.selector,
		})
	default:
		return nil, fmt.Errorf("unknown media kind %d", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", kind, err)
	}

	var tracks []mediadevices.Track
	if kind == domain.KindMic {
		tracks = stream.GetAudioTracks()
	} else {
		tracks = stream.GetVideoTracks()
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("acquire %s: no track in stream", kind)
	}

	mt := tracks[0]
	t := NewTrack(kind, mt, mt.Close)
	mt.OnEnded(func(err error) {
		if err != nil {
			log.Debug().Err(err).Str("module", "capture").Str("kind", kind.String()).Msg("track ended")
		}
		t.SignalEnded()
	})
	log.Info().Str("module", "capture").Str("kind", kind.String()).Str("track_id", mt.ID()).Msg("capture acquired")
	return t, nil
}

func (m *MediaDevices) Devices() ([]Device, error) {
	infos := mediadevices.EnumerateDevices()
	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		kind := "unknown"
		switch info.Kind {
		case mediadevices.AudioInput:
			kind = "audioinput"
		case mediadevices.VideoInput:
			kind = "videoinput"
		case mediadevices.AudioOutput:
			kind = "audiooutput"
		}
		out = append(out, Device{ID: info.DeviceID, Label: info.Label, Kind: kind})
	}
	return out, nil
}

// ResetPermissions exists for hosts that hold revocable capture grants.
// The desktop drivers have none, so this is a logged no-op.
func (m *MediaDevices) ResetPermissions(_ context.Context) error {
	log.Debug().Str("module", "capture").Msg("permission reset requested")
	return nil
}
