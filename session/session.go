// Package session negotiates a publish and subscribe session with a mediasoup
// room over a protoo control channel.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"mediabot/correlator"
	"mediabot/dispatcher"
	"mediabot/engine"
	"mediabot/media"
	"mediabot/metric"
	"mediabot/pkg/socket"
	"mediabot/types/request"
	"mediabot/types/response"
	"mediabot/types/rtc"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrNotConnected is returned when signaling before Connect.
	ErrNotConnected = errors.New("session not connected")
)

// Dialer opens the control channel.
type Dialer func(ctx context.Context, uri string) (socket.Socket, error)

func dialSocket(ctx context.Context, uri string) (socket.Socket, error) {
	return socket.Dial(ctx, uri, nil)
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the websocket dialer.
func WithDialer(dial Dialer) Option {
	return func(s *Session) {
		s.dial = dial
	}
}

// WithMetrics records session activity.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithStateObserver calls fn on every state change. fn runs while the
// transition is held and must not call back into the session.
func WithStateObserver(fn func(State)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// WithLogger replaces the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session owns the control channel, the device, both transports and every
// endpoint created through them.
type Session struct {
	config   Config
	device   engine.Device
	source   media.Source
	sink     media.Sink
	dial     Dialer
	metrics  *metric.Metrics
	observer func(State)
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  conc.WaitGroup

	loaded       chan struct{}
	loadOnce     sync.Once
	dispatchDone chan struct{}
	closeDone    chan struct{}

	stateMu sync.Mutex
	state   atomic.Int32

	sendMu sync.Mutex
	recvMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	conn      socket.Socket
	requests  *correlator.Correlator
	send      engine.Transport
	recv      engine.Transport
	fatal     error
	producers registry
	consumers registry
}

// New creates a session. The source supplies the published tracks and the
// sink receives every consumed track.
func New(config Config, device engine.Device, source media.Source, sink media.Sink, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		config:       config.withDefaults(),
		device:       device,
		source:       source,
		sink:         sink,
		dial:         dialSocket,
		logger:       log.With().Str("module", "session").Logger(),
		ctx:          ctx,
		cancel:       cancel,
		loaded:       make(chan struct{}),
		dispatchDone: make(chan struct{}),
		closeDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(next State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	current := State(s.state.Load())
	updated := advance(current, next)
	if updated == current {
		return
	}
	s.state.Store(int32(updated))
	s.logger.Debug().Str("from", current.String()).Str("to", updated.String()).Msg("state changed")
	if s.observer != nil {
		s.observer(updated)
	}
}

// Run drives the whole session: connect, load, create both transports,
// publish until the budget ends, leave and close. It returns the first
// negotiation failure or the fatal control channel error.
func (s *Session) Run(ctx context.Context) error {
	defer func() { _ = s.Close() }()

	// 1. Open the control channel
	if err := s.Connect(ctx); err != nil {
		return s.outcome(err)
	}

	// 2. Load the router capabilities into the device
	if err := s.Load(ctx); err != nil {
		return s.outcome(err)
	}

	// 3. Create both transports
	if _, err := s.CreateSendTransport(ctx); err != nil {
		return s.outcome(err)
	}
	if _, err := s.CreateRecvTransport(ctx); err != nil {
		return s.outcome(err)
	}

	// 4. Publish until the budget elapses
	s.Produce(ctx)

	// 5. Leave the room, which also closes the control channel
	s.LeaveRoom(context.WithoutCancel(ctx))

	<-s.dispatchDone
	return s.outcome(nil)
}

// outcome picks what Run reports. A fatal channel error wins, and failures
// caused only by a deliberate close are not reported.
func (s *Session) outcome(err error) error {
	s.mu.Lock()
	fatal, closed := s.fatal, s.closed
	s.mu.Unlock()

	if fatal != nil {
		return fatal
	}
	if err != nil && closed && (errors.Is(err, ErrClosed) || errors.Is(err, correlator.ErrClosed)) {
		return nil
	}
	return err
}

// Connect opens the control channel and starts reading it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx, s.config.URI)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.mu.Lock()
	if s.closed || s.conn != nil {
		closed := s.closed
		s.mu.Unlock()
		_ = conn.Close()
		if closed {
			return ErrClosed
		}
		return nil
	}
	s.conn = conn
	s.requests = correlator.New(conn)
	d := dispatcher.New(conn, s.requests, bridge{s}, s.spawn)
	s.mu.Unlock()

	s.metrics.SessionStarted()
	go s.dispatch(d)

	s.logger.Info().Str("uri", s.config.URI).Msg("connected")
	s.setState(Connecting)
	return nil
}

// dispatch runs the read loop. The session cannot outlive its channel.
func (s *Session) dispatch(d *dispatcher.Dispatcher) {
	defer close(s.dispatchDone)

	if err := d.Run(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("control channel failed")
		s.mu.Lock()
		s.fatal = err
		s.mu.Unlock()
	}
	_ = s.Close()
}

// spawn runs task in the session task set unless the session is closed.
func (s *Session) spawn(task func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.tasks.Go(task)
	return true
}

// request sends method and waits for its response with the configured timeout.
func (s *Session) request(ctx context.Context, method string, data any) (json.RawMessage, error) {
	s.mu.Lock()
	requests := s.requests
	s.mu.Unlock()
	if requests == nil {
		return nil, ErrNotConnected
	}

	s.metrics.RequestSent(method)
	res, err := requests.Request(ctx, method, data, s.config.RequestTimeout)
	if errors.Is(err, correlator.ErrTimeout) {
		s.metrics.RequestTimedOut(method)
	}
	return res, err
}

// Load fetches the router capabilities and loads them into the device
// together with the source tracks.
func (s *Session) Load(ctx context.Context) error {
	data, err := s.request(ctx, request.MethodGetRouterRtpCapabilities, nil)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	var caps rtc.RtpCapabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return fmt.Errorf("decode router capabilities: %w", err)
	}

	if err := s.device.Load(ctx, caps, s.localTracks()); err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	s.loadOnce.Do(func() { close(s.loaded) })

	s.logger.Info().Int("codecs", len(caps.Codecs)).Msg("router capabilities loaded")
	s.setState(CapabilitiesLoaded)
	return nil
}

func (s *Session) localTracks() []media.LocalTrack {
	var tracks []media.LocalTrack
	for _, track := range []media.LocalTrack{s.source.Video(), s.source.Audio()} {
		if track != nil {
			tracks = append(tracks, track)
		}
	}
	return tracks
}

// waitLoaded blocks until Load succeeded.
func (s *Session) waitLoaded(ctx context.Context) error {
	select {
	case <-s.loaded:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateSendTransport returns the send transport, creating it on first use.
func (s *Session) CreateSendTransport(ctx context.Context) (engine.Transport, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	existing := s.send
	s.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	opts, err := s.requestTransport(ctx, engine.Send)
	if err != nil {
		return nil, err
	}
	transport, err := s.device.CreateSendTransport(opts, bridge{s})
	if err != nil {
		return nil, fmt.Errorf("create send transport: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = transport.Close()
		return nil, ErrClosed
	}
	s.send = transport
	s.mu.Unlock()

	s.logger.Info().Str("transport", transport.ID()).Msg("send transport ready")
	s.setState(SendTransportReady)
	return transport, nil
}

// CreateRecvTransport returns the recv transport, creating it on first use.
func (s *Session) CreateRecvTransport(ctx context.Context) (engine.Transport, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	s.mu.Lock()
	existing := s.recv
	s.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	opts, err := s.requestTransport(ctx, engine.Recv)
	if err != nil {
		return nil, err
	}
	transport, err := s.device.CreateRecvTransport(opts, bridge{s})
	if err != nil {
		return nil, fmt.Errorf("create recv transport: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = transport.Close()
		return nil, ErrClosed
	}
	s.recv = transport
	s.mu.Unlock()

	s.logger.Info().Str("transport", transport.ID()).Msg("recv transport ready")
	s.setState(RecvTransportReady)
	return transport, nil
}

func (s *Session) requestTransport(ctx context.Context, direction engine.Direction) (engine.TransportOptions, error) {
	data, err := s.request(ctx, request.MethodCreateWebRtcTransport, request.CreateWebRtcTransport{
		ForceTCP:         false,
		Producing:        direction == engine.Send,
		Consuming:        direction == engine.Recv,
		SctpCapabilities: s.device.SctpCapabilities(),
	})
	if err != nil {
		return engine.TransportOptions{}, fmt.Errorf("create %s transport: %w", direction, err)
	}

	var res response.WebRtcTransport
	if err := json.Unmarshal(data, &res); err != nil {
		return engine.TransportOptions{}, fmt.Errorf("decode %s transport: %w", direction, err)
	}
	return engine.TransportOptions{
		ID:             res.ID,
		IceParameters:  res.IceParameters,
		IceCandidates:  res.IceCandidates,
		DtlsParameters: res.DtlsParameters,
		SctpParameters: res.SctpParameters,
		IceServers:     res.IceServers,
	}, nil
}

// Produce joins the room, publishes the source tracks and holds until the
// budget elapses, the source ends or the session closes. Failures are logged
// and never returned.
func (s *Session) Produce(ctx context.Context) {
	if s.config.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Budget)
		defer cancel()
	}

	err := s.publish(ctx)
	switch {
	case err == nil:
		s.logger.Info().Msg("publishing finished")
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Info().Dur("budget", s.config.Budget).Msg("time budget elapsed")
	case errors.Is(err, context.Canceled):
		s.logger.Info().Msg("publishing cancelled")
	case s.isClosed():
		s.logger.Debug().Err(err).Msg("publishing stopped by close")
	default:
		s.logger.Warn().Err(err).Msg("publishing failed")
	}
}

func (s *Session) publish(ctx context.Context) error {
	// 1. Ensure the send transport exists
	if _, err := s.CreateSendTransport(ctx); err != nil {
		return err
	}

	// 2. Join the room
	if err := s.join(ctx); err != nil {
		return err
	}

	// 3. Publish video, then audio
	for _, track := range []media.LocalTrack{s.source.Video(), s.source.Audio()} {
		if track == nil {
			continue
		}
		if _, err := s.ProduceTrack(ctx, track); err != nil {
			return err
		}
	}
	s.setState(Producing)

	// 4. Open the data producer if asked to
	if s.config.ProduceData {
		if _, err := s.ProduceData(ctx, "chat", ""); err != nil {
			s.logger.Warn().Err(err).Msg("failed to produce data")
		}
	}

	// 5. Feed the tracks
	if err := s.source.Start(s.ctx); err != nil {
		return fmt.Errorf("start source: %w", err)
	}

	// 6. Hold
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.source.Done():
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// join enters the room. A join left unanswered is tolerated because the
// server may still have accepted it.
func (s *Session) join(ctx context.Context) error {
	data, err := s.request(ctx, request.MethodJoin, request.Join{
		DisplayName:      s.config.DisplayName,
		Device:           s.config.Device,
		RtpCapabilities:  s.device.RtpCapabilities(),
		SctpCapabilities: s.device.SctpCapabilities(),
	})
	if errors.Is(err, correlator.ErrTimeout) {
		s.logger.Warn().Err(err).Msg("join not confirmed, continuing")
		return nil
	}
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	var joined response.Joined
	if err := json.Unmarshal(data, &joined); err != nil {
		s.logger.Debug().Err(err).Msg("ignoring malformed join reply")
	}
	s.logger.Info().Int("peers", len(joined.Peers)).Msg("joined room")
	return nil
}

// ProduceTrack publishes track on the send transport.
func (s *Session) ProduceTrack(ctx context.Context, track media.LocalTrack) (engine.Producer, error) {
	transport, err := s.CreateSendTransport(ctx)
	if err != nil {
		return nil, err
	}
	producer, err := transport.Produce(ctx, engine.ProducerOptions{Track: track})
	if err != nil {
		return nil, err
	}
	if !s.register(&s.producers, producer) {
		_ = producer.Close()
		return nil, ErrClosed
	}
	s.metrics.ProducerAdded()
	return producer, nil
}

// ProduceData opens a data producer on the send transport. It is not part of
// the default flow unless Config.ProduceData is set.
func (s *Session) ProduceData(ctx context.Context, label, protocol string) (engine.DataProducer, error) {
	transport, err := s.CreateSendTransport(ctx)
	if err != nil {
		return nil, err
	}
	producer, err := transport.ProduceData(ctx, engine.DataProducerOptions{Label: label, Protocol: protocol, Ordered: true})
	if err != nil {
		return nil, err
	}
	if !s.register(&s.producers, producer) {
		_ = producer.Close()
		return nil, ErrClosed
	}
	s.metrics.ProducerAdded()
	return producer, nil
}

// Consume receives a remote producer and attaches its track to the sink. It
// may run before the local negotiation finished; it waits for the device.
func (s *Session) Consume(ctx context.Context, id, producerID string, kind rtc.MediaKind, rtpParameters rtc.RtpParameters) (engine.Consumer, error) {
	if err := s.waitLoaded(ctx); err != nil {
		return nil, err
	}
	transport, err := s.CreateRecvTransport(ctx)
	if err != nil {
		return nil, err
	}
	consumer, err := transport.Consume(ctx, engine.ConsumerOptions{
		ID:            id,
		ProducerID:    producerID,
		Kind:          kind,
		RtpParameters: rtpParameters,
	})
	if err != nil {
		return nil, err
	}
	if !s.register(&s.consumers, consumer) {
		_ = consumer.Close()
		return nil, ErrClosed
	}
	s.metrics.ConsumerAdded()

	if err := s.sink.AddTrack(consumer.Track()); err != nil {
		return nil, fmt.Errorf("attach consumer %s: %w", id, err)
	}
	if err := s.sink.Start(s.ctx); err != nil {
		return nil, fmt.Errorf("start sink: %w", err)
	}

	s.logger.Info().Str("consumer", id).Str("producer", producerID).Str("kind", string(kind)).Msg("consumer attached")
	return consumer, nil
}

// ConsumeData receives a remote data producer.
func (s *Session) ConsumeData(ctx context.Context, id, dataProducerID string, stream rtc.SctpStreamParameters, label, protocol string) (engine.DataConsumer, error) {
	if err := s.waitLoaded(ctx); err != nil {
		return nil, err
	}
	transport, err := s.CreateRecvTransport(ctx)
	if err != nil {
		return nil, err
	}
	consumer, err := transport.ConsumeData(ctx, engine.DataConsumerOptions{
		ID:                   id,
		DataProducerID:       dataProducerID,
		SctpStreamParameters: stream,
		Label:                label,
		Protocol:             protocol,
	})
	if err != nil {
		return nil, err
	}
	if !s.register(&s.consumers, consumer) {
		_ = consumer.Close()
		return nil, ErrClosed
	}
	s.metrics.ConsumerAdded()

	s.logger.Info().Str("data_consumer", id).Str("label", label).Msg("data consumer attached")
	return consumer, nil
}

// register adds e unless the session already closed.
func (s *Session) register(r *registry, e endpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	r.Add(e)
	return true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LeaveRoom tells the server the session leaves and closes the control
// channel. Leaving is best effort.
func (s *Session) LeaveRoom(ctx context.Context) {
	if s.isClosed() {
		return
	}
	if _, err := s.request(ctx, request.MethodLeaveRoom, nil); err != nil {
		s.logger.Warn().Err(err).Msg("leaveRoom failed")
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close control channel")
		}
	}
	s.logger.Info().Msg("left room")
}

// Close releases everything the session owns. Every step runs even when an
// earlier one failed. Later calls wait for the first to finish and return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.closeDone
		return nil
	}
	s.closed = true
	conn, requests, send, recv := s.conn, s.requests, s.send, s.recv
	s.mu.Unlock()
	defer close(s.closeDone)

	s.setState(Closing)
	var errs []error

	// 1. Endpoints, consumers first
	consumers := s.consumers.Drain()
	if err := closeAll(consumers); err != nil {
		errs = append(errs, fmt.Errorf("close consumers: %w", err))
	}
	s.metrics.ConsumersRemoved(len(consumers))

	producers := s.producers.Drain()
	if err := closeAll(producers); err != nil {
		errs = append(errs, fmt.Errorf("close producers: %w", err))
	}
	s.metrics.ProducersRemoved(len(producers))

	if err := s.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close source: %w", err))
	}

	// 2. Wake everything waiting on the session
	s.cancel()
	if requests != nil {
		requests.Close()
	}

	// 3. Transports
	if recv != nil {
		if err := recv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recv transport: %w", err))
		}
	}
	if send != nil {
		if err := send.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close send transport: %w", err))
		}
	}

	// 4. Control channel
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close control channel: %w", err))
		}
		s.metrics.SessionEnded()
	}

	// 5. Sink
	if err := s.sink.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop sink: %w", err))
	}

	// 6. Background tasks
	if r := s.tasks.WaitAndRecover(); r != nil {
		errs = append(errs, fmt.Errorf("session task: %w", r.AsError()))
	}

	s.setState(Closed)
	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn().Err(err).Msg("session closed with errors")
	} else {
		s.logger.Info().Msg("session closed")
	}
	return err
}
