// Package engine drives the WebRTC media engine on behalf of a signaling session.
package engine

import (
	"context"

	"mediabot/media"
	"mediabot/types/rtc"
)

// Direction tells whether a transport sends or receives.
type Direction string

// Transport directions.
const (
	Send Direction = "send"
	Recv Direction = "recv"
)

// TransportOptions are the server side parameters of a transport.
type TransportOptions struct {
	ID             string
	IceParameters  rtc.IceParameters
	IceCandidates  []rtc.IceCandidate
	DtlsParameters rtc.DtlsParameters
	SctpParameters *rtc.SctpParameters
	IceServers     []rtc.IceServer
}

// ConnectListener is called by a transport before it starts its DTLS
// handshake. The handshake waits until it returns.
type ConnectListener interface {
	OnConnect(ctx context.Context, transportID string, dtls rtc.DtlsParameters) error
}

// SendListener is called by a send transport to obtain server side ids for
// new producers. Production waits until it returns.
type SendListener interface {
	ConnectListener
	OnProduce(ctx context.Context, transportID string, kind rtc.MediaKind, rtpParameters rtc.RtpParameters, appData rtc.AppData) (string, error)
	OnProduceData(ctx context.Context, transportID string, sctp rtc.SctpStreamParameters, label, protocol string, appData rtc.AppData) (string, error)
}

// Device negotiates capabilities with the router and creates transports.
type Device interface {
	Load(ctx context.Context, routerCapabilities rtc.RtpCapabilities, tracks []media.LocalTrack) error
	Loaded() bool
	RtpCapabilities() rtc.RtpCapabilities
	SctpCapabilities() rtc.SctpCapabilities
	CanProduce(kind rtc.MediaKind) bool
	CreateSendTransport(opts TransportOptions, listener SendListener) (Transport, error)
	CreateRecvTransport(opts TransportOptions, listener ConnectListener) (Transport, error)
}

// ProducerOptions describe a media producer.
type ProducerOptions struct {
	Track   media.LocalTrack
	AppData rtc.AppData
}

// DataProducerOptions describe a data producer.
type DataProducerOptions struct {
	Label             string
	Protocol          string
	Ordered           bool
	MaxPacketLifeTime *uint16
	MaxRetransmits    *uint16
	AppData           rtc.AppData
}

// ConsumerOptions describe a media consumer pushed by the server.
type ConsumerOptions struct {
	ID            string
	ProducerID    string
	Kind          rtc.MediaKind
	RtpParameters rtc.RtpParameters
}

// DataConsumerOptions describe a data consumer pushed by the server.
type DataConsumerOptions struct {
	ID                   string
	DataProducerID       string
	SctpStreamParameters rtc.SctpStreamParameters
	Label                string
	Protocol             string
}

// Transport is a negotiated network path carrying producers or consumers.
type Transport interface {
	ID() string
	Direction() Direction
	Produce(ctx context.Context, opts ProducerOptions) (Producer, error)
	ProduceData(ctx context.Context, opts DataProducerOptions) (DataProducer, error)
	Consume(ctx context.Context, opts ConsumerOptions) (Consumer, error)
	ConsumeData(ctx context.Context, opts DataConsumerOptions) (DataConsumer, error)
	Close() error
}

// Producer sends a local track.
type Producer interface {
	ID() string
	Kind() rtc.MediaKind
	Close() error
}

// DataProducer sends messages on an SCTP stream.
type DataProducer interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Consumer receives a remote producer's track.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() rtc.MediaKind
	Track() media.RemoteTrack
	Close() error
}

// DataConsumer receives messages of a remote data producer.
type DataConsumer interface {
	ID() string
	DataProducerID() string
	Close() error
}
