// Package rtc contains the mediasoup parameter types exchanged over signaling.
package rtc

import (
	"encoding/json"
	"fmt"
)

// MediaKind is the kind of media carried by a producer or consumer.
type MediaKind string

// Media kinds.
const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// Valid reports whether the kind is audio or video.
func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

// RtpCapabilities are the codecs and header extensions an endpoint supports.
type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs,omitempty"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

// RtpCodecCapability describes one supported codec.
type RtpCodecCapability struct {
	Kind                 MediaKind      `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint16         `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

// RtcpFeedback is an RTCP feedback mechanism supported by a codec.
type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpHeaderExtension describes a supported RTP header extension.
type RtpHeaderExtension struct {
	Kind             MediaKind `json:"kind,omitempty"`
	URI              string    `json:"uri"`
	PreferredID      int       `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

// RtpParameters describe what a producer sends or a consumer receives.
type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             *RtcpParameters                `json:"rtcp,omitempty"`
}

// RtpCodecParameters is a codec bound to a payload type.
type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

// RtpHeaderExtensionParameters is a header extension bound to an id.
type RtpHeaderExtensionParameters struct {
	URI        string         `json:"uri"`
	ID         int            `json:"id"`
	Encrypt    bool           `json:"encrypt,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// RtpEncodingParameters describe one RTP stream.
type RtpEncodingParameters struct {
	Ssrc            uint32         `json:"ssrc,omitempty"`
	Rid             string         `json:"rid,omitempty"`
	Dtx             bool           `json:"dtx,omitempty"`
	ScalabilityMode string         `json:"scalabilityMode,omitempty"`
	MaxBitrate      int            `json:"maxBitrate,omitempty"`
	Rtx             *RtxParameters `json:"rtx,omitempty"`
}

// RtxParameters carry the retransmission SSRC of an encoding.
type RtxParameters struct {
	Ssrc uint32 `json:"ssrc"`
}

// RtcpParameters are the RTCP settings of a stream.
type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
}

// IceParameters are the ICE credentials of the server side of a transport.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

// IceCandidate is a server ICE candidate. Servers put the address either in
// "ip" or in "address".
type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip,omitempty"`
	Address    string `json:"address,omitempty"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

// Host returns the candidate address regardless of which field carries it.
func (c IceCandidate) Host() string {
	if c.Address != "" {
		return c.Address
	}
	return c.IP
}

// DtlsRole is the DTLS role of an endpoint.
type DtlsRole string

// DTLS roles.
const (
	DtlsRoleAuto   DtlsRole = "auto"
	DtlsRoleClient DtlsRole = "client"
	DtlsRoleServer DtlsRole = "server"
)

// DtlsFingerprint is a certificate fingerprint.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DtlsParameters are the DTLS role and fingerprints of an endpoint.
type DtlsParameters struct {
	Role         DtlsRole          `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// SctpParameters are the server side SCTP settings of a transport.
type SctpParameters struct {
	Port           int `json:"port"`
	OS             int `json:"OS"`
	MIS            int `json:"MIS"`
	MaxMessageSize int `json:"maxMessageSize"`
}

// NumSctpStreams is the number of outgoing and incoming SCTP streams.
type NumSctpStreams struct {
	OS  int `json:"OS"`
	MIS int `json:"MIS"`
}

// SctpCapabilities are the SCTP capabilities of an endpoint.
type SctpCapabilities struct {
	NumStreams NumSctpStreams `json:"numStreams"`
}

// SctpStreamParameters describe a single SCTP stream used by a data channel.
type SctpStreamParameters struct {
	StreamID          uint16  `json:"streamId"`
	Ordered           *bool   `json:"ordered,omitempty"`
	MaxPacketLifeTime *uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    *uint16 `json:"maxRetransmits,omitempty"`
}

// IsOrdered reports whether the stream delivers messages in order. Streams
// are ordered unless told otherwise.
func (p SctpStreamParameters) IsOrdered() bool {
	return p.Ordered == nil || *p.Ordered
}

// IceServer is a STUN or TURN server offered to the client.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// UnmarshalJSON accepts "urls" both as a single string and as a list.
func (s *IceServer) UnmarshalJSON(data []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Username = raw.Username
	s.Credential = raw.Credential
	s.URLs = nil
	if len(raw.URLs) == 0 {
		return nil
	}

	var one string
	if err := json.Unmarshal(raw.URLs, &one); err == nil {
		s.URLs = []string{one}
		return nil
	}
	if err := json.Unmarshal(raw.URLs, &s.URLs); err != nil {
		return fmt.Errorf("ice server urls: %w", err)
	}
	return nil
}

// AppData is free-form application data attached to producers.
type AppData map[string]any
