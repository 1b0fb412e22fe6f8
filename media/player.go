package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const (
	// StreamID groups the published tracks.
	StreamID = "mediabot"

	opusFrameDuration = 20 * time.Millisecond
	opusSampleRate    = 48000
)

// opusSilence is a single Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// PlayerConfig selects the files a Player reads. An empty path is replaced by
// a synthetic track.
type PlayerConfig struct {
	VideoFile string // IVF container with VP8 frames
	AudioFile string // OGG container with Opus pages
}

type pump func(ctx context.Context) error

// Player is a Source reading an IVF video and an OGG audio file from disk.
type Player struct {
	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample

	pumps     []pump
	filePumps int
	files     []io.Closer

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewPlayer opens the configured files and prepares the tracks.
func NewPlayer(config PlayerConfig) (*Player, error) {
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, "video", StreamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  2,
	}, "audio", StreamID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	p := &Player{
		video: video,
		audio: audio,
		done:  make(chan struct{}),
	}

	if config.VideoFile != "" {
		f, err := os.Open(config.VideoFile)
		if err != nil {
			return nil, fmt.Errorf("open video: %w", err)
		}
		reader, header, err := ivfreader.NewWith(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("read ivf header of %s: %w", config.VideoFile, err)
		}
		p.files = append(p.files, f)
		p.pumps = append(p.pumps, ivfPump(reader, header, video))
		p.filePumps++
	}

	if config.AudioFile != "" {
		f, err := os.Open(config.AudioFile)
		if err != nil {
			_ = p.closeFiles()
			return nil, fmt.Errorf("open audio: %w", err)
		}
		reader, _, err := oggreader.NewWith(f)
		if err != nil {
			_ = f.Close()
			_ = p.closeFiles()
			return nil, fmt.Errorf("read ogg header of %s: %w", config.AudioFile, err)
		}
		p.files = append(p.files, f)
		p.pumps = append(p.pumps, oggPump(reader, audio))
		p.filePumps++
	} else {
		p.pumps = append(p.pumps, silencePump(audio))
	}

	return p, nil
}

// Video returns the video track. Without a video file it stays blank.
func (p *Player) Video() LocalTrack {
	return p.video
}

// Audio returns the audio track. Without an audio file it carries silence.
func (p *Player) Audio() LocalTrack {
	return p.audio
}

// Start begins writing samples. Later calls are no-ops.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("player closed")
	}
	if p.started {
		return nil
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	var files sync.WaitGroup
	for i, run := range p.pumps {
		isFile := i < p.filePumps
		if isFile {
			files.Add(1)
		}
		p.wg.Add(1)
		go func(run pump) {
			defer p.wg.Done()
			if isFile {
				defer files.Done()
			}
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Str("module", "media").Err(err).Msg("player stopped")
			}
		}(run)
	}

	if p.filePumps > 0 {
		go func() {
			files.Wait()
			close(p.done)
		}()
	}
	return nil
}

// Done is closed once every file has been played. A player without files
// never finishes.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Close stops playback and releases the files.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return p.closeFiles()
}

func (p *Player) closeFiles() error {
	var errs []error
	for _, f := range p.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.files = nil
	return errors.Join(errs...)
}

func ivfPump(reader *ivfreader.IVFReader, header *ivfreader.IVFFileHeader, track *webrtc.TrackLocalStaticSample) pump {
	frameDuration := time.Second / 30
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		frameDuration = time.Second * time.Duration(header.TimebaseNumerator) / time.Duration(header.TimebaseDenominator)
	}

	return func(ctx context.Context) error {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read ivf frame: %w", err)
			}
			if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
				return fmt.Errorf("write video sample: %w", err)
			}
		}
	}
}

func oggPump(reader *oggreader.OggReader, track *webrtc.TrackLocalStaticSample) pump {
	return func(ctx context.Context) error {
		var lastGranule uint64
		ticker := time.NewTicker(opusFrameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			page, header, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read ogg page: %w", err)
			}

			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			duration := time.Duration(samples) * time.Second / opusSampleRate
			if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
				return fmt.Errorf("write audio sample: %w", err)
			}
		}
	}
}

func silencePump(track *webrtc.TrackLocalStaticSample) pump {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(opusFrameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if err := track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: opusFrameDuration}); err != nil {
				return fmt.Errorf("write silence: %w", err)
			}
		}
	}
}
