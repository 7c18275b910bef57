package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openmeet/meshcall/internal/capture"
	"github.com/openmeet/meshcall/internal/domain"
)

// mediaController owns the local capture devices and the local
// composite stream. Each kind is an independent disabled/enabled state
// machine; the media lifecycle is independent of the session lifecycle,
// so toggles are legal even before Connect.
type mediaController struct {
	state    domain.MediaDeviceState
	tracks   map[domain.MediaKind]*capture.Track
	stream   *LocalStream
	streamID string
}

func newMediaController() *mediaController {
	return &mediaController{
		tracks:   make(map[domain.MediaKind]*capture.Track),
		streamID: uuid.NewString(),
	}
}

func (m *mediaController) setEnabled(kind domain.MediaKind, on bool) {
	switch kind {
	case domain.KindMic:
		m.state.MicEnabled = on
	case domain.KindCamera:
		m.state.CameraEnabled = on
	case domain.KindScreen:
		m.state.ScreenSharing = on
	}
}

// rebuild replaces the composite with a fresh object, or drops it
// entirely when no track remains.
func (m *mediaController) rebuild() {
	tracks := make([]*capture.Track, 0, len(m.tracks))
	for _, kind := range domain.Kinds() {
		if t, ok := m.tracks[kind]; ok {
			tracks = append(tracks, t)
		}
	}
	if len(tracks) == 0 {
		m.stream = nil
		return
	}
	out := &LocalStream{ID: m.streamID}
	for _, t := range tracks {
		out.Tracks = append(out.Tracks, t.Local)
	}
	m.stream = out
}

func (s *Session) EnableMic(ctx context.Context) error { return s.enableKind(ctx, domain.KindMic) }
func (s *Session) DisableMic() error                   { return s.disableKind(domain.KindMic) }
func (s *Session) EnableCamera(ctx context.Context) error {
	return s.enableKind(ctx, domain.KindCamera)
}
func (s *Session) DisableCamera() error { return s.disableKind(domain.KindCamera) }
func (s *Session) StartScreenShare(ctx context.Context) error {
	return s.enableKind(ctx, domain.KindScreen)
}
func (s *Session) StopScreenShare() error { return s.disableKind(domain.KindScreen) }

func (s *Session) MediaState() domain.MediaDeviceState {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	return s.media.state
}

// LocalStream returns the current local composite, nil when no capture
// is enabled.
func (s *Session) LocalStream() *LocalStream {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	return s.media.stream
}

// enableKind acquires the device, fans the track out to every peer in
// parallel, and commits state only after acquisition succeeded. A
// denial reverts silently: one best-effort permission reset, one retry,
// then the toggle is abandoned with no attach calls and no state
// change.
func (s *Session) enableKind(ctx context.Context, kind domain.MediaKind) error {
	s.mediaMu.Lock()

	m := s.media
	if m.state.Enabled(kind) {
		s.mediaMu.Unlock()
		return nil
	}

	track, err := s.devices.Acquire(ctx, kind)
	if err != nil {
		if resetErr := s.devices.ResetPermissions(ctx); resetErr != nil {
			log.Debug().Err(resetErr).Str("module", "session.media").Msg("permission reset")
		}
		track, err = s.devices.Acquire(ctx, kind)
	}
	if err != nil {
		s.mediaMu.Unlock()
		log.Warn().Err(err).Str("module", "session.media").Str("kind", kind.String()).Msg("capture denied, toggle reverted")
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, kind)
	}

	// The OS-level "stop sharing" affordance ends capture outside our
	// control; route it through the dispatch loop as a toggle-off.
	track.OnEnded(func() {
		if d := s.dispatcherRef(); d != nil {
			d.emit(evCaptureEnded{kind: kind})
			return
		}
		go func() {
			if err := s.disableKind(kind); err != nil {
				log.Error().Err(err).Str("module", "session.media").Msg("disable after capture end")
			}
		}()
	})

	g, _ := errgroup.WithContext(ctx)
	for _, e := range s.reg.snapshot() {
		g.Go(func() error {
			if _, err := e.set.attach(kind, track.Local); err != nil {
				log.Error().Err(err).Str("module", "session.media").
					Str("peer", string(e.participant.ID)).Str("kind", kind.String()).Msg("attach")
			}
			return nil
		})
	}
	_ = g.Wait()

	m.tracks[kind] = track
	m.setEnabled(kind, true)
	m.rebuild()

	// The change hook reads back through MediaState and LocalStream;
	// it must never run under the media lock.
	s.mediaMu.Unlock()
	log.Info().Str("module", "session.media").Str("kind", kind.String()).Msg("capture enabled")
	s.notify()
	return nil
}

// disableKind fans detach out in parallel, stops the capture track and
// rebuilds the local composite.
func (s *Session) disableKind(kind domain.MediaKind) error {
	s.mediaMu.Lock()

	m := s.media
	if !m.state.Enabled(kind) {
		s.mediaMu.Unlock()
		return nil
	}

	var g errgroup.Group
	for _, e := range s.reg.snapshot() {
		g.Go(func() error {
			_ = e.set.detach(kind)
			return nil
		})
	}
	_ = g.Wait()

	if track, ok := m.tracks[kind]; ok {
		if err := track.Close(); err != nil {
			log.Error().Err(err).Str("module", "session.media").Str("kind", kind.String()).Msg("stop capture")
		}
		delete(m.tracks, kind)
	}
	m.setEnabled(kind, false)
	m.rebuild()

	s.mediaMu.Unlock()
	log.Info().Str("module", "session.media").Str("kind", kind.String()).Msg("capture disabled")
	s.notify()
	return nil
}

// activeTracks snapshots the enabled capture tracks in kind order, for
// seeding a freshly created peer connection.
func (s *Session) activeTracks() map[domain.MediaKind]*capture.Track {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	out := make(map[domain.MediaKind]*capture.Track, len(s.media.tracks))
	for k, t := range s.media.tracks {
		out[k] = t
	}
	return out
}

// stopAllCapture tears down every capture track without fanning out to
// peers; used by Disconnect, where the connections are closing anyway.
func (s *Session) stopAllCapture() {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()

	m := s.media
	for kind, track := range m.tracks {
		if err := track.Close(); err != nil {
			log.Error().Err(err).Str("module", "session.media").Str("kind", kind.String()).Msg("stop capture")
		}
		delete(m.tracks, kind)
		m.setEnabled(kind, false)
	}
	m.rebuild()
}
