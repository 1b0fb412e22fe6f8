package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"mediabot/types/rtc"
)

var (
	// ErrTransportClosed is returned when using a closed transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrWrongDirection is returned when producing on a recv transport or
	// consuming on a send transport.
	ErrWrongDirection = errors.New("operation not allowed on this transport direction")

	// ErrSctpDisabled is returned for data channels on a transport without SCTP.
	ErrSctpDisabled = errors.New("transport has no sctp association")

	// ErrInvalidRtpParameters is returned when consumer parameters lack a codec or encoding.
	ErrInvalidRtpParameters = errors.New("invalid rtp parameters")

	// ErrConnectFailed is returned by every use of a transport whose first
	// connection attempt failed.
	ErrConnectFailed = errors.New("transport connection failed")
)

// pionTransport is an ICE, DTLS and optional SCTP stack built with the ORTC API.
type pionTransport struct {
	id        string
	direction Direction
	api       *webrtc.API
	codecs    []rtc.RtpCodecCapability
	opts      TransportOptions
	connect   ConnectListener
	send      SendListener
	cname     string

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	sctp     *webrtc.SCTPTransport

	connectMu  sync.Mutex
	connected  bool
	connectErr error

	mu           sync.Mutex
	closed       bool
	nextStreamID uint16
}

func newTransport(
	api *webrtc.API,
	codecs []rtc.RtpCodecCapability,
	direction Direction,
	opts TransportOptions,
	connect ConnectListener,
	send SendListener,
) (*pionTransport, error) {
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: toPionICEServers(opts.IceServers)})
	if err != nil {
		return nil, fmt.Errorf("failed to create ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("failed to create dtls transport: %w", err)
	}

	t := &pionTransport{
		id:        opts.ID,
		direction: direction,
		api:       api,
		codecs:    codecs,
		opts:      opts,
		connect:   connect,
		send:      send,
		cname:     uuid.NewString(),
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
	}
	if opts.SctpParameters != nil {
		t.sctp = api.NewSCTPTransport(dtls)
	}

	log.Debug().Str("module", "engine").Str("transport", t.id).Str("direction", string(direction)).Msg("transport created")
	return t, nil
}

func (t *pionTransport) ID() string {
	return t.id
}

func (t *pionTransport) Direction() Direction {
	return t.direction
}

func (t *pionTransport) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%s: %w", t.id, ErrTransportClosed)
	}
	return nil
}

// ensureConnected runs the ICE and DTLS handshakes the first time the
// transport carries a producer or consumer. The server accepts only one
// connectWebRtcTransport, so a failed attempt is final.
func (t *pionTransport) ensureConnected(ctx context.Context) error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()
	if t.connected {
		return nil
	}
	if t.connectErr != nil {
		return t.connectErr
	}
	if err := t.checkOpen(); err != nil {
		return err
	}

	if err := t.handshake(ctx); err != nil {
		t.connectErr = fmt.Errorf("transport %s: %w: %w", t.id, ErrConnectFailed, err)
		return t.connectErr
	}

	t.connected = true
	log.Info().Str("module", "engine").Str("transport", t.id).Str("direction", string(t.direction)).Msg("transport connected")
	return nil
}

func (t *pionTransport) handshake(ctx context.Context) error {
	gathered := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("failed to gather candidates: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	localRole, remoteRole := rtc.DtlsRoleClient, webrtc.DTLSRoleServer
	if t.opts.DtlsParameters.Role == rtc.DtlsRoleClient {
		localRole, remoteRole = rtc.DtlsRoleServer, webrtc.DTLSRoleClient
	}

	local, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("failed to get dtls parameters: %w", err)
	}
	if err := t.connect.OnConnect(ctx, t.id, fromPionDTLS(local, localRole)); err != nil {
		return fmt.Errorf("connect transport %s: %w", t.id, err)
	}

	candidates, err := toPionCandidates(t.opts.IceCandidates)
	if err != nil {
		return err
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("failed to set remote candidates: %w", err)
	}

	role := webrtc.ICERoleControlling
	remoteICE := webrtc.ICEParameters{
		UsernameFragment: t.opts.IceParameters.UsernameFragment,
		Password:         t.opts.IceParameters.Password,
		ICELite:          true,
	}
	if err := t.ice.Start(nil, remoteICE, &role); err != nil {
		return fmt.Errorf("failed to start ice: %w", err)
	}
	if err := t.dtls.Start(toPionDTLS(t.opts.DtlsParameters, remoteRole)); err != nil {
		return fmt.Errorf("failed to start dtls: %w", err)
	}
	if t.sctp != nil {
		caps := webrtc.SCTPCapabilities{MaxMessageSize: uint32(t.opts.SctpParameters.MaxMessageSize)}
		if err := t.sctp.Start(caps); err != nil {
			return fmt.Errorf("failed to start sctp: %w", err)
		}
	}

	return nil
}

func (t *pionTransport) Produce(ctx context.Context, opts ProducerOptions) (Producer, error) {
	if t.direction != Send {
		return nil, ErrWrongDirection
	}
	if opts.Track == nil {
		return nil, errors.New("producer needs a track")
	}
	mimeType := opts.Track.Codec().MimeType
	codec, ok := findCodec(t.codecs, mimeType)
	if !ok {
		return nil, fmt.Errorf("%s: %w", mimeType, ErrUnsupportedCodec)
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	sender, err := t.api.NewRTPSender(opts.Track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create rtp sender: %w", err)
	}
	params := sender.GetParameters()
	if len(params.Encodings) == 0 {
		_ = sender.Stop()
		return nil, fmt.Errorf("rtp sender for %s has no encoding", mimeType)
	}

	rtpParameters := rtc.RtpParameters{
		Codecs:    []rtc.RtpCodecParameters{toCodecParameters(codec)},
		Encodings: []rtc.RtpEncodingParameters{{Ssrc: uint32(params.Encodings[0].SSRC)}},
		Rtcp:      &rtc.RtcpParameters{Cname: t.cname, ReducedSize: true},
	}
	id, err := t.send.OnProduce(ctx, t.id, codec.Kind, rtpParameters, opts.AppData)
	if err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("produce %s: %w", codec.Kind, err)
	}
	if err := sender.Send(params); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("failed to start rtp sender: %w", err)
	}
	go drainRTCP(sender)

	log.Info().Str("module", "engine").Str("producer", id).Str("kind", string(codec.Kind)).Msg("producing")
	return &producer{id: id, kind: codec.Kind, sender: sender}, nil
}

func (t *pionTransport) ProduceData(ctx context.Context, opts DataProducerOptions) (DataProducer, error) {
	if t.direction != Send {
		return nil, ErrWrongDirection
	}
	if t.sctp == nil {
		return nil, ErrSctpDisabled
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	streamID := t.nextStreamID
	t.nextStreamID++
	t.mu.Unlock()

	dc, err := t.api.NewDataChannel(t.sctp, &webrtc.DataChannelParameters{
		Label:             opts.Label,
		Protocol:          opts.Protocol,
		ID:                &streamID,
		Ordered:           opts.Ordered,
		MaxPacketLifeTime: opts.MaxPacketLifeTime,
		MaxRetransmits:    opts.MaxRetransmits,
		Negotiated:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	ordered := opts.Ordered
	stream := rtc.SctpStreamParameters{
		StreamID:          streamID,
		Ordered:           &ordered,
		MaxPacketLifeTime: opts.MaxPacketLifeTime,
		MaxRetransmits:    opts.MaxRetransmits,
	}
	id, err := t.send.OnProduceData(ctx, t.id, stream, opts.Label, opts.Protocol, opts.AppData)
	if err != nil {
		_ = dc.Close()
		return nil, fmt.Errorf("produce data %s: %w", opts.Label, err)
	}

	log.Info().Str("module", "engine").Str("data_producer", id).Str("label", opts.Label).Msg("producing data")
	return &dataProducer{id: id, channel: dc}, nil
}

func (t *pionTransport) Consume(ctx context.Context, opts ConsumerOptions) (Consumer, error) {
	if t.direction != Recv {
		return nil, ErrWrongDirection
	}
	if !opts.Kind.Valid() || len(opts.RtpParameters.Codecs) == 0 || len(opts.RtpParameters.Encodings) == 0 {
		return nil, fmt.Errorf("consumer %s: %w", opts.ID, ErrInvalidRtpParameters)
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	receiver, err := t.api.NewRTPReceiver(pionKind(opts.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create rtp receiver: %w", err)
	}

	codec := opts.RtpParameters.Codecs[0]
	encoding := opts.RtpParameters.Encodings[0]
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(encoding.Ssrc),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	})
	if err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("failed to start rtp receiver: %w", err)
	}

	log.Info().Str("module", "engine").Str("consumer", opts.ID).Str("kind", string(opts.Kind)).Msg("consuming")
	return &consumer{id: opts.ID, producerID: opts.ProducerID, kind: opts.Kind, receiver: receiver}, nil
}

func (t *pionTransport) ConsumeData(ctx context.Context, opts DataConsumerOptions) (DataConsumer, error) {
	if t.direction != Recv {
		return nil, ErrWrongDirection
	}
	if t.sctp == nil {
		return nil, ErrSctpDisabled
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	stream := opts.SctpStreamParameters
	streamID := stream.StreamID
	dc, err := t.api.NewDataChannel(t.sctp, &webrtc.DataChannelParameters{
		Label:             opts.Label,
		Protocol:          opts.Protocol,
		ID:                &streamID,
		Ordered:           stream.IsOrdered(),
		MaxPacketLifeTime: stream.MaxPacketLifeTime,
		MaxRetransmits:    stream.MaxRetransmits,
		Negotiated:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	logger := log.With().Str("module", "engine").Str("data_consumer", opts.ID).Str("label", opts.Label).Logger()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		logger.Debug().Int("size", len(msg.Data)).Bool("text", msg.IsString).Msg("data message")
	})

	logger.Info().Msg("consuming data")
	return &dataConsumer{id: opts.ID, dataProducerID: opts.DataProducerID, channel: dc}, nil
}

// Close tears the stack down from the top. Calling it again is a no-op.
func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	var errs []error
	if t.sctp != nil {
		errs = append(errs, t.sctp.Stop())
	}
	errs = append(errs, t.dtls.Stop(), t.ice.Stop(), t.gatherer.Close())

	log.Debug().Str("module", "engine").Str("transport", t.id).Msg("transport closed")
	return errors.Join(errs...)
}
