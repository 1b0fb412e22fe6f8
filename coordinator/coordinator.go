// Package coordinator runs join jobs submitted over HTTP and reports their
// outcome to the caller's callback URLs.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"mediabot/database"
	"mediabot/media"
	"mediabot/metric"
	"mediabot/session"
)

// ErrShuttingDown is returned when submitting after Shutdown.
var ErrShuttingDown = errors.New("coordinator is shutting down")

// JoinRequest asks for one session to join a room.
type JoinRequest struct {
	WSURL      string
	SuccessURL string
	FailureURL string
}

// callbackStatus is the body PUT to the callback URLs.
type callbackStatus struct {
	Status string `json:"status"`
}

// Coordinator runs join jobs off the request goroutine.
type Coordinator struct {
	config   Config
	database database.Database
	runner   Runner
	metrics  *metric.Metrics
	client   *http.Client
	budget   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	jobs   conc.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a new instance of Coordinator. The job budget is measured once
// from the default video.
func New(config Config, db database.Database, runner Runner, m *metric.Metrics) *Coordinator {
	if config.Grace == 0 {
		config.Grace = DefaultGrace
	}
	if config.DefaultBudget == 0 {
		config.DefaultBudget = DefaultBudget
	}
	if config.CallbackTimeout == 0 {
		config.CallbackTimeout = DefaultCallbackTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config:   config,
		database: db,
		runner:   runner,
		metrics:  m,
		client:   &http.Client{Timeout: config.CallbackTimeout},
		budget:   jobBudget(config),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func jobBudget(config Config) time.Duration {
	if config.DefaultVideo == "" {
		return config.DefaultBudget
	}
	d, err := media.Duration(config.DefaultVideo)
	if err != nil {
		log.Warn().Str("module", "coordinator").Err(err).Msg("failed to probe default video, using default budget")
		return config.DefaultBudget
	}
	return d + config.Grace
}

// Budget returns the time budget given to each job.
func (c *Coordinator) Budget() time.Duration {
	return c.budget
}

// Submit stores a job and starts it in the background.
func (c *Coordinator) Submit(req JoinRequest) (*database.JobInfo, error) {
	if err := (session.Config{URI: req.WSURL}).Validate(); err != nil {
		return nil, err
	}

	info := &database.JobInfo{
		ID:         uuid.NewString(),
		WSURL:      req.WSURL,
		SuccessURL: req.SuccessURL,
		FailureURL: req.FailureURL,
		Status:     database.JobPending,
		CreatedAt:  time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrShuttingDown
	}
	if err := c.database.CreateJobInfo(info); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	job := Job{ID: info.ID, WSURL: info.WSURL, Budget: c.budget}
	c.jobs.Go(func() {
		c.run(job, info.SuccessURL, info.FailureURL)
	})

	log.Info().Str("module", "coordinator").Str("job", info.ID).Str("ws_url", info.WSURL).Dur("budget", c.budget).Msg("job submitted")
	return info.DeepCopy(), nil
}

// Job returns the stored state of a job.
func (c *Coordinator) Job(id string) (*database.JobInfo, error) {
	return c.database.FindJobInfoByID(id)
}

func (c *Coordinator) run(job Job, successURL, failureURL string) {
	logger := log.With().Str("module", "coordinator").Str("job", job.ID).Logger()

	observe := func(state session.State) {
		if _, err := c.database.UpdateJobInfoState(job.ID, state.String()); err != nil {
			logger.Debug().Err(err).Msg("failed to record state")
		}
	}
	runErr := c.runner.Run(c.ctx, job, observe)

	info, err := c.database.FinishJobInfo(job.ID, runErr)
	if err != nil {
		logger.Error().Err(err).Msg("failed to finish job")
		return
	}
	c.metrics.JobFinished(string(info.Status))

	if runErr != nil {
		logger.Warn().Err(runErr).Msg("job failed")
		c.notify(failureURL, callbackStatus{Status: runErr.Error()})
		return
	}
	logger.Info().Msg("job succeeded")
	c.notify(successURL, callbackStatus{Status: string(database.JobSucceeded)})
}

// notify PUTs status to url. Delivery is attempted once.
func (c *Coordinator) notify(url string, status callbackStatus) {
	if url == "" {
		return
	}
	logger := log.With().Str("module", "coordinator").Str("url", url).Logger()

	body, err := json.Marshal(status)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode callback")
		return
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		logger.Error().Err(err).Msg("failed to build callback")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("callback failed")
		return
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= http.StatusBadRequest {
		logger.Warn().Int("status", res.StatusCode).Msg("callback rejected")
		return
	}
	logger.Debug().Int("status", res.StatusCode).Msg("callback delivered")
}

// Shutdown stops accepting jobs, cancels the running ones and waits for them
// until ctx is done.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		if r := c.jobs.WaitAndRecover(); r != nil {
			err = r.AsError()
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
