// Package enginetest provides an in-memory engine.Device for session tests.
package enginetest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"mediabot/engine"
	"mediabot/media"
	"mediabot/types/rtc"
)

// Fingerprint is the DTLS fingerprint fake transports report on connect.
var Fingerprint = rtc.DtlsFingerprint{Algorithm: "sha-256", Value: "AA:BB:CC"}

// Device records what the session asked of it. Transports connect instantly.
type Device struct {
	// LoadErr is returned by Load when set.
	LoadErr error

	mu           sync.Mutex
	loaded       bool
	capabilities rtc.RtpCapabilities
	sendCreated  int
	recvCreated  int
	transports   []*Transport
	closeErrs    map[string]error
	closeCalls   []string
}

// NewDevice creates an unloaded fake device.
func NewDevice() *Device {
	return &Device{}
}

func (d *Device) Load(_ context.Context, routerCapabilities rtc.RtpCapabilities, _ []media.LocalTrack) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.LoadErr != nil {
		return d.LoadErr
	}
	if d.loaded {
		return engine.ErrAlreadyLoaded
	}
	d.loaded = true
	d.capabilities = routerCapabilities
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *Device) RtpCapabilities() rtc.RtpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capabilities
}

func (d *Device) SctpCapabilities() rtc.SctpCapabilities {
	return rtc.SctpCapabilities{NumStreams: rtc.NumSctpStreams{OS: 1024, MIS: 1024}}
}

func (d *Device) CanProduce(kind rtc.MediaKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.capabilities.Codecs {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

func (d *Device) CreateSendTransport(opts engine.TransportOptions, listener engine.SendListener) (engine.Transport, error) {
	return d.create(engine.Send, opts, listener, listener)
}

func (d *Device) CreateRecvTransport(opts engine.TransportOptions, listener engine.ConnectListener) (engine.Transport, error) {
	return d.create(engine.Recv, opts, listener, nil)
}

func (d *Device) create(direction engine.Direction, opts engine.TransportOptions, connect engine.ConnectListener, send engine.SendListener) (engine.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil, engine.ErrNotLoaded
	}
	if direction == engine.Send {
		d.sendCreated++
	} else {
		d.recvCreated++
	}
	t := &Transport{id: opts.ID, device: d, direction: direction, opts: opts, connect: connect, send: send}
	d.transports = append(d.transports, t)
	return t, nil
}

// FailClose makes the endpoint with id return err from Close.
func (d *Device) FailClose(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeErrs == nil {
		d.closeErrs = make(map[string]error)
	}
	d.closeErrs[id] = err
}

// CloseCalls returns the ids of closed endpoints in call order, one entry per
// Close call.
func (d *Device) CloseCalls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.closeCalls...)
}

func (d *Device) closeEndpoint(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls = append(d.closeCalls, id)
	return d.closeErrs[id]
}

// Created returns how many send and recv transports were created.
func (d *Device) Created() (send, recv int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendCreated, d.recvCreated
}

// Transports returns the transports created so far.
func (d *Device) Transports() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Transport, len(d.transports))
	copy(out, d.transports)
	return out
}

// Transport is a fake transport. It calls its listener the way a real one does.
type Transport struct {
	id        string
	device    *Device
	direction engine.Direction
	opts      engine.TransportOptions
	connect   engine.ConnectListener
	send      engine.SendListener

	mu        sync.Mutex
	connected bool
	closed    bool
	nextSSRC  uint32
	nextSID   uint16
}

func (t *Transport) ID() string                  { return t.id }
func (t *Transport) Direction() engine.Direction { return t.direction }

// Options returns the server parameters the transport was created with.
func (t *Transport) Options() engine.TransportOptions { return t.opts }

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) ensureConnected(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return engine.ErrTransportClosed
	}
	if t.connected {
		return nil
	}
	dtls := rtc.DtlsParameters{Role: rtc.DtlsRoleClient, Fingerprints: []rtc.DtlsFingerprint{Fingerprint}}
	if err := t.connect.OnConnect(ctx, t.id, dtls); err != nil {
		return err
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(ctx context.Context, opts engine.ProducerOptions) (engine.Producer, error) {
	if t.direction != engine.Send {
		return nil, engine.ErrWrongDirection
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	codec := opts.Track.Codec()
	kind := rtc.MediaKindVideo
	if opts.Track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = rtc.MediaKindAudio
	}
	t.mu.Lock()
	t.nextSSRC++
	ssrc := t.nextSSRC
	t.mu.Unlock()

	params := rtc.RtpParameters{
		Codecs:    []rtc.RtpCodecParameters{{MimeType: codec.MimeType, PayloadType: 100, ClockRate: codec.ClockRate, Channels: codec.Channels}},
		Encodings: []rtc.RtpEncodingParameters{{Ssrc: ssrc}},
		Rtcp:      &rtc.RtcpParameters{Cname: "fake", ReducedSize: true},
	}
	id, err := t.send.OnProduce(ctx, t.id, kind, params, opts.AppData)
	if err != nil {
		return nil, fmt.Errorf("produce %s: %w", kind, err)
	}
	return &endpoint{device: t.device, id: id, kind: kind}, nil
}

func (t *Transport) ProduceData(ctx context.Context, opts engine.DataProducerOptions) (engine.DataProducer, error) {
	if t.direction != engine.Send {
		return nil, engine.ErrWrongDirection
	}
	if t.opts.SctpParameters == nil {
		return nil, engine.ErrSctpDisabled
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	sid := t.nextSID
	t.nextSID++
	t.mu.Unlock()

	ordered := opts.Ordered
	stream := rtc.SctpStreamParameters{StreamID: sid, Ordered: &ordered}
	id, err := t.send.OnProduceData(ctx, t.id, stream, opts.Label, opts.Protocol, opts.AppData)
	if err != nil {
		return nil, fmt.Errorf("produce data: %w", err)
	}
	return &endpoint{device: t.device, id: id}, nil
}

func (t *Transport) Consume(ctx context.Context, opts engine.ConsumerOptions) (engine.Consumer, error) {
	if t.direction != engine.Recv {
		return nil, engine.ErrWrongDirection
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}
	track := &RemoteTrack{id: opts.ID, kind: opts.Kind}
	if len(opts.RtpParameters.Codecs) > 0 {
		track.mimeType = opts.RtpParameters.Codecs[0].MimeType
	}
	return &endpoint{device: t.device, id: opts.ID, producerID: opts.ProducerID, kind: opts.Kind, track: track}, nil
}

func (t *Transport) ConsumeData(ctx context.Context, opts engine.DataConsumerOptions) (engine.DataConsumer, error) {
	if t.direction != engine.Recv {
		return nil, engine.ErrWrongDirection
	}
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return &endpoint{device: t.device, id: opts.ID, producerID: opts.DataProducerID}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// endpoint stands in for producers and consumers of every kind.
type endpoint struct {
	device     *Device
	id         string
	producerID string
	kind       rtc.MediaKind
	track      *RemoteTrack
}

func (e *endpoint) ID() string               { return e.id }
func (e *endpoint) ProducerID() string       { return e.producerID }
func (e *endpoint) DataProducerID() string   { return e.producerID }
func (e *endpoint) Kind() rtc.MediaKind      { return e.kind }
func (e *endpoint) Track() media.RemoteTrack { return e.track }
func (e *endpoint) Send([]byte) error        { return nil }
func (e *endpoint) Close() error             { return e.device.closeEndpoint(e.id) }

// RemoteTrack is a remote track that never yields packets.
type RemoteTrack struct {
	id       string
	kind     rtc.MediaKind
	mimeType string
}

func (r *RemoteTrack) ID() string { return r.id }

func (r *RemoteTrack) Kind() webrtc.RTPCodecType {
	if r.kind == rtc.MediaKindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func (r *RemoteTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: r.mimeType}}
}

func (r *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}
