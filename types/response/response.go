// Package response defines the payloads the signaling server sends to the client.
package response

import (
	"encoding/json"

	"mediabot/types/rtc"
)

// Server requests the client must answer.
const (
	MethodNewConsumer     = "newConsumer"
	MethodNewDataConsumer = "newDataConsumer"
)

// Notifications the client acts on.
const (
	MethodPeerLeft = "peerLeft"
)

// WebRtcTransport is the reply to createWebRtcTransport.
type WebRtcTransport struct {
	ID             string              `json:"id"`
	IceParameters  rtc.IceParameters   `json:"iceParameters"`
	IceCandidates  []rtc.IceCandidate  `json:"iceCandidates"`
	DtlsParameters rtc.DtlsParameters  `json:"dtlsParameters"`
	SctpParameters *rtc.SctpParameters `json:"sctpParameters,omitempty"`
	IceServers     []rtc.IceServer     `json:"iceServers,omitempty"`
}

// Produced is the reply to produce and produceData.
type Produced struct {
	ID string `json:"id"`
}

// Joined is the reply to join.
type Joined struct {
	Peers []json.RawMessage `json:"peers"`
}

// NewConsumer is pushed by the server when a remote producer should be consumed.
type NewConsumer struct {
	PeerID         string            `json:"peerId"`
	ProducerID     string            `json:"producerId"`
	ID             string            `json:"id"`
	Kind           rtc.MediaKind     `json:"kind"`
	RtpParameters  rtc.RtpParameters `json:"rtpParameters"`
	Type           string            `json:"type,omitempty"`
	AppData        rtc.AppData       `json:"appData,omitempty"`
	ProducerPaused bool              `json:"producerPaused,omitempty"`
}

// NewDataConsumer is pushed by the server when a remote data producer should
// be consumed.
type NewDataConsumer struct {
	PeerID               string                   `json:"peerId"`
	DataProducerID       string                   `json:"dataProducerId"`
	ID                   string                   `json:"id"`
	SctpStreamParameters rtc.SctpStreamParameters `json:"sctpStreamParameters"`
	Label                string                   `json:"label"`
	Protocol             string                   `json:"protocol"`
	AppData              rtc.AppData              `json:"appData,omitempty"`
}

// PeerLeft notifies that a peer left the room.
type PeerLeft struct {
	PeerID string `json:"peerId"`
}
