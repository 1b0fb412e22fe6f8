package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mediabot/engine"
	"mediabot/media"
	"mediabot/metric"
	"mediabot/session"
)

// Job is one session to run.
type Job struct {
	ID     string
	WSURL  string
	Budget time.Duration
}

// Runner runs the session of a job to completion. observe receives every
// session state change.
type Runner interface {
	Run(ctx context.Context, job Job, observe func(session.State)) error
}

// SessionRunner runs jobs with the WebRTC engine, the configured media files
// and a discarding or recording sink.
type SessionRunner struct {
	config  Config
	metrics *metric.Metrics
}

// NewSessionRunner creates a SessionRunner.
func NewSessionRunner(config Config, m *metric.Metrics) *SessionRunner {
	return &SessionRunner{config: config, metrics: m}
}

// Run builds the media and the session for job and runs it.
func (r *SessionRunner) Run(ctx context.Context, job Job, observe func(session.State)) error {
	return r.RunSession(ctx, job.ID, session.Config{URI: job.WSURL, Budget: job.Budget}, observe)
}

// RunSession runs one session configured by config. name tags its log lines.
func (r *SessionRunner) RunSession(ctx context.Context, name string, config session.Config, observe func(session.State)) error {
	player, err := media.NewPlayer(media.PlayerConfig{
		VideoFile: r.config.DefaultVideo,
		AudioFile: r.config.DefaultAudio,
	})
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}

	var sink media.Sink = media.NewBlackhole()
	if r.config.RecordDir != "" {
		recorder, err := media.NewRecorder(r.config.RecordDir)
		if err != nil {
			return errors.Join(fmt.Errorf("open recorder: %w", err), player.Close())
		}
		sink = recorder
	}

	opts := []session.Option{
		session.WithMetrics(r.metrics),
		session.WithLogger(log.With().Str("module", "session").Str("job", name).Logger()),
	}
	if observe != nil {
		opts = append(opts, session.WithStateObserver(observe))
	}

	s := session.New(config, engine.NewDevice(r.config.Engine), player, sink, opts...)
	return s.Run(ctx)
}
