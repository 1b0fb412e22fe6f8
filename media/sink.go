package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

const stopTimeout = 5 * time.Second

// ErrSinkStopped is returned when adding a track to a stopped sink.
var ErrSinkStopped = errors.New("sink stopped")

type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

type discard struct{}

func (discard) WriteRTP(*rtp.Packet) error { return nil }
func (discard) Close() error               { return nil }

// TrackSink drains consumed tracks into per-track writers.
type TrackSink struct {
	name string
	open func(track RemoteTrack) (rtpWriter, error)

	mu      sync.Mutex
	tracks  []RemoteTrack
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBlackhole returns a sink that reads and drops every packet.
func NewBlackhole() *TrackSink {
	return &TrackSink{
		name: "blackhole",
		open: func(RemoteTrack) (rtpWriter, error) {
			return discard{}, nil
		},
	}
}

// NewRecorder returns a sink that writes VP8 tracks to IVF files and Opus
// tracks to OGG files in dir. Other codecs are drained.
func NewRecorder(dir string) (*TrackSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &TrackSink{
		name: "recorder",
		open: func(track RemoteTrack) (rtpWriter, error) {
			return openRecording(dir, track)
		},
	}, nil
}

func openRecording(dir string, track RemoteTrack) (rtpWriter, error) {
	switch strings.ToLower(track.Codec().MimeType) {
	case strings.ToLower(webrtc.MimeTypeVP8):
		return ivfwriter.New(filepath.Join(dir, track.ID()+".ivf"))
	case strings.ToLower(webrtc.MimeTypeOpus):
		return oggwriter.New(filepath.Join(dir, track.ID()+".ogg"), opusSampleRate, 2)
	default:
		log.Info().Str("module", "media").Str("track", track.ID()).Str("codec", track.Codec().MimeType).Msg("codec not recordable, draining")
		return discard{}, nil
	}
}

// AddTrack attaches a track. Once the sink is started the track is drained
// right away.
func (s *TrackSink) AddTrack(track RemoteTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSinkStopped
	}
	s.tracks = append(s.tracks, track)
	if s.started {
		s.drain(track)
	}
	return nil
}

// Start begins draining every attached track. Later calls are no-ops.
func (s *TrackSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSinkStopped
	}
	if s.started {
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, track := range s.tracks {
		s.drain(track)
	}
	log.Debug().Str("module", "media").Str("sink", s.name).Int("tracks", len(s.tracks)).Msg("sink started")
	return nil
}

// Stop ends draining and closes the writers. Tracks still blocked on a read
// are abandoned after a short grace period.
func (s *TrackSink) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("%s: tracks still reading after %s", s.name, stopTimeout)
	}
}

// drain must be called with s.mu held.
func (s *TrackSink) drain(track RemoteTrack) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var w rtpWriter
		defer func() {
			if w == nil {
				return
			}
			if err := w.Close(); err != nil {
				log.Warn().Str("module", "media").Str("track", track.ID()).Err(err).Msg("failed to close writer")
			}
		}()

		for {
			packet, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug().Str("module", "media").Str("track", track.ID()).Err(err).Msg("track ended")
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			if w == nil {
				if w, err = s.open(track); err != nil {
					log.Warn().Str("module", "media").Str("track", track.ID()).Err(err).Msg("failed to open writer, draining")
					w = discard{}
				}
			}
			if err := w.WriteRTP(packet); err != nil {
				log.Warn().Str("module", "media").Str("track", track.ID()).Err(err).Msg("failed to write packet")
				return
			}
		}
	}()
}
