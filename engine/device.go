package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"mediabot/logging"
	"mediabot/media"
	"mediabot/types/rtc"
)

// numSctpStreams is the number of SCTP streams offered in each direction.
const numSctpStreams = 1024

var (
	// ErrNotLoaded is returned when a transport is created before Load.
	ErrNotLoaded = errors.New("device not loaded")

	// ErrAlreadyLoaded is returned when Load is called twice.
	ErrAlreadyLoaded = errors.New("device already loaded")

	// ErrNoUsableCodec is returned when the router offers no codec the engine supports.
	ErrNoUsableCodec = errors.New("router offers no usable codec")

	// ErrUnsupportedCodec is returned when a local track uses a codec the router lacks.
	ErrUnsupportedCodec = errors.New("codec not supported by router")
)

// PionDevice is a Device backed by pion's ORTC API.
type PionDevice struct {
	config Config

	mu     sync.RWMutex
	loaded bool
	codecs []rtc.RtpCodecCapability
	api    *webrtc.API
}

// NewDevice creates an unloaded device.
func NewDevice(config Config) *PionDevice {
	return &PionDevice{config: config}
}

// Load negotiates the device against the router capabilities. Every track
// must use a codec the router offers.
func (d *PionDevice) Load(_ context.Context, routerCapabilities rtc.RtpCapabilities, tracks []media.LocalTrack) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return ErrAlreadyLoaded
	}

	codecs := usableCodecs(routerCapabilities)
	if len(codecs) == 0 {
		return ErrNoUsableCodec
	}
	for _, track := range tracks {
		if track == nil {
			continue
		}
		mimeType := track.Codec().MimeType
		if _, ok := findCodec(codecs, mimeType); !ok {
			return fmt.Errorf("%s: %w", mimeType, ErrUnsupportedCodec)
		}
	}

	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		if err := m.RegisterCodec(toPionCodec(c), pionKind(c.Kind)); err != nil {
			return fmt.Errorf("failed to register codec %s: %w", c.MimeType, err)
		}
	}

	i := &interceptor.Registry{}
	if err := webrtc.ConfigureNack(m, i); err != nil {
		return fmt.Errorf("failed to configure nack: %w", err)
	}
	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		return fmt.Errorf("failed to configure rtcp reports: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: logging.NewPionFactory(log.Logger)}
	if err := d.config.SetPortRange(&s); err != nil {
		return err
	}

	d.api = webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s))
	d.codecs = codecs
	d.loaded = true

	log.Info().Str("module", "engine").Int("codecs", len(codecs)).Msg("device loaded")
	return nil
}

// Loaded reports whether Load succeeded.
func (d *PionDevice) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// RtpCapabilities returns the codecs the device can send and receive.
func (d *PionDevice) RtpCapabilities() rtc.RtpCapabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	codecs := make([]rtc.RtpCodecCapability, len(d.codecs))
	copy(codecs, d.codecs)
	return rtc.RtpCapabilities{Codecs: codecs}
}

// SctpCapabilities returns the SCTP streams the device supports.
func (d *PionDevice) SctpCapabilities() rtc.SctpCapabilities {
	return rtc.SctpCapabilities{NumStreams: rtc.NumSctpStreams{OS: numSctpStreams, MIS: numSctpStreams}}
}

// CanProduce reports whether the router accepts media of kind from this device.
func (d *PionDevice) CanProduce(kind rtc.MediaKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.codecs {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// CreateSendTransport creates a transport for producers.
func (d *PionDevice) CreateSendTransport(opts TransportOptions, listener SendListener) (Transport, error) {
	return d.createTransport(Send, opts, listener, listener)
}

// CreateRecvTransport creates a transport for consumers.
func (d *PionDevice) CreateRecvTransport(opts TransportOptions, listener ConnectListener) (Transport, error) {
	return d.createTransport(Recv, opts, listener, nil)
}

func (d *PionDevice) createTransport(direction Direction, opts TransportOptions, connect ConnectListener, send SendListener) (Transport, error) {
	d.mu.RLock()
	api, codecs, loaded := d.api, d.codecs, d.loaded
	d.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}
	return newTransport(api, codecs, direction, opts, connect, send)
}
