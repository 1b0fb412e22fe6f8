// Package media provides the local sources and remote sinks of a session.
package media

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is a track published by the session.
type LocalTrack interface {
	webrtc.TrackLocal
	Codec() webrtc.RTPCodecCapability
}

// RemoteTrack is a track received through a consumer.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Source supplies the local audio and video tracks and feeds them once started.
//
//go:generate mockgen -destination=mock_media.go -package=media . Sink,Source
type Source interface {
	Video() LocalTrack
	Audio() LocalTrack
	Start(ctx context.Context) error
	Done() <-chan struct{}
	Close() error
}

// Sink accepts consumed tracks. Start must be safe to call more than once.
type Sink interface {
	AddTrack(track RemoteTrack) error
	Start(ctx context.Context) error
	Stop() error
}
