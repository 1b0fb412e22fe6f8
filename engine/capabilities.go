package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pion/webrtc/v4"

	"mediabot/types/rtc"
)

// supportedMimeTypes are the codecs the engine can packetize and depacketize.
var supportedMimeTypes = map[string]rtc.MediaKind{
	strings.ToLower(webrtc.MimeTypeOpus): rtc.MediaKindAudio,
	strings.ToLower(webrtc.MimeTypeVP8):  rtc.MediaKindVideo,
	strings.ToLower(webrtc.MimeTypeVP9):  rtc.MediaKindVideo,
	strings.ToLower(webrtc.MimeTypeH264): rtc.MediaKindVideo,
}

// usableCodecs keeps the router codecs the engine supports, in router order.
func usableCodecs(router rtc.RtpCapabilities) []rtc.RtpCodecCapability {
	var codecs []rtc.RtpCodecCapability
	for _, c := range router.Codecs {
		kind, ok := supportedMimeTypes[strings.ToLower(c.MimeType)]
		if !ok || kind != c.Kind || c.PreferredPayloadType == 0 {
			continue
		}
		codecs = append(codecs, c)
	}
	return codecs
}

// findCodec returns the first codec with the given mime type.
func findCodec(codecs []rtc.RtpCodecCapability, mimeType string) (rtc.RtpCodecCapability, bool) {
	for _, c := range codecs {
		if strings.EqualFold(c.MimeType, mimeType) {
			return c, true
		}
	}
	return rtc.RtpCodecCapability{}, false
}

// fmtpLine renders codec parameters the way SDP fmtp lines carry them.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ";")
}

func pionKind(kind rtc.MediaKind) webrtc.RTPCodecType {
	if kind == rtc.MediaKindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func toPionCodec(c rtc.RtpCodecCapability) webrtc.RTPCodecParameters {
	feedback := make([]webrtc.RTCPFeedback, 0, len(c.RtcpFeedback))
	for _, fb := range c.RtcpFeedback {
		feedback = append(feedback, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  fmtpLine(c.Parameters),
			RTCPFeedback: feedback,
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

// toCodecParameters binds a router codec to its preferred payload type.
func toCodecParameters(c rtc.RtpCodecCapability) rtc.RtpCodecParameters {
	return rtc.RtpCodecParameters{
		MimeType:     c.MimeType,
		PayloadType:  c.PreferredPayloadType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		Parameters:   c.Parameters,
		RtcpFeedback: c.RtcpFeedback,
	}
}

func toPionICEServers(servers []rtc.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}

func toPionCandidates(candidates []rtc.IceCandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(candidates))
	for _, c := range candidates {
		protocol, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Host(),
			Protocol:   protocol,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
			TCPType:    c.TCPType,
		})
	}
	return out, nil
}

func fromPionDTLS(p webrtc.DTLSParameters, role rtc.DtlsRole) rtc.DtlsParameters {
	fingerprints := make([]rtc.DtlsFingerprint, 0, len(p.Fingerprints))
	for _, fp := range p.Fingerprints {
		fingerprints = append(fingerprints, rtc.DtlsFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return rtc.DtlsParameters{Role: role, Fingerprints: fingerprints}
}

func toPionDTLS(p rtc.DtlsParameters, role webrtc.DTLSRole) webrtc.DTLSParameters {
	fingerprints := make([]webrtc.DTLSFingerprint, 0, len(p.Fingerprints))
	for _, fp := range p.Fingerprints {
		fingerprints = append(fingerprints, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return webrtc.DTLSParameters{Role: role, Fingerprints: fingerprints}
}
