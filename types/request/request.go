// Package request defines the payloads of requests the client sends to the signaling server.
package request

import "mediabot/types/rtc"

// Methods the client calls on the server.
const (
	MethodGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	MethodCreateWebRtcTransport    = "createWebRtcTransport"
	MethodConnectWebRtcTransport   = "connectWebRtcTransport"
	MethodProduce                  = "produce"
	MethodProduceData              = "produceData"
	MethodJoin                     = "join"
	MethodLeaveRoom                = "leaveRoom"
)

// CreateWebRtcTransport asks the server for a new WebRTC transport.
type CreateWebRtcTransport struct {
	ForceTCP         bool                 `json:"forceTcp"`
	Producing        bool                 `json:"producing"`
	Consuming        bool                 `json:"consuming"`
	SctpCapabilities rtc.SctpCapabilities `json:"sctpCapabilities"`
}

// ConnectWebRtcTransport hands the local DTLS parameters to the server.
type ConnectWebRtcTransport struct {
	TransportID    string             `json:"transportId"`
	DtlsParameters rtc.DtlsParameters `json:"dtlsParameters"`
}

// Produce announces a new producer on the send transport.
type Produce struct {
	TransportID   string            `json:"transportId"`
	Kind          rtc.MediaKind     `json:"kind"`
	RtpParameters rtc.RtpParameters `json:"rtpParameters"`
	AppData       rtc.AppData       `json:"appData"`
}

// ProduceData announces a new data producer on the send transport.
type ProduceData struct {
	TransportID          string                   `json:"transportId"`
	SctpStreamParameters rtc.SctpStreamParameters `json:"sctpStreamParameters"`
	Label                string                   `json:"label"`
	Protocol             string                   `json:"protocol"`
	AppData              rtc.AppData              `json:"appData"`
}

// Device describes the client to other peers.
type Device struct {
	Flag    string `json:"flag"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Join enters the room.
type Join struct {
	DisplayName      string               `json:"displayName"`
	Device           Device               `json:"device"`
	RtpCapabilities  rtc.RtpCapabilities  `json:"rtpCapabilities"`
	SctpCapabilities rtc.SctpCapabilities `json:"sctpCapabilities"`
}
