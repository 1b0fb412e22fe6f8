package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mediabot/types/request"
	"mediabot/types/response"
	"mediabot/types/rtc"
)

// errMissingID is returned when the server assigns an empty producer id.
var errMissingID = errors.New("server returned no id")

// bridge carries engine callbacks and server pushes into the session. It
// implements engine.SendListener and dispatcher.Handler.
type bridge struct {
	s *Session
}

func (b bridge) OnConnect(ctx context.Context, transportID string, dtls rtc.DtlsParameters) error {
	_, err := b.s.request(ctx, request.MethodConnectWebRtcTransport, request.ConnectWebRtcTransport{
		TransportID:    transportID,
		DtlsParameters: dtls,
	})
	if err != nil {
		return err
	}
	b.s.logger.Debug().Str("transport", transportID).Msg("transport connected on server")
	return nil
}

func (b bridge) OnProduce(ctx context.Context, transportID string, kind rtc.MediaKind, rtpParameters rtc.RtpParameters, appData rtc.AppData) (string, error) {
	if appData == nil {
		appData = rtc.AppData{}
	}
	data, err := b.s.request(ctx, request.MethodProduce, request.Produce{
		TransportID:   transportID,
		Kind:          kind,
		RtpParameters: rtpParameters,
		AppData:       appData,
	})
	if err != nil {
		return "", err
	}
	return decodeID(data)
}

func (b bridge) OnProduceData(ctx context.Context, transportID string, sctp rtc.SctpStreamParameters, label, protocol string, appData rtc.AppData) (string, error) {
	if appData == nil {
		appData = rtc.AppData{}
	}
	data, err := b.s.request(ctx, request.MethodProduceData, request.ProduceData{
		TransportID:          transportID,
		SctpStreamParameters: sctp,
		Label:                label,
		Protocol:             protocol,
		AppData:              appData,
	})
	if err != nil {
		return "", err
	}
	return decodeID(data)
}

func decodeID(data json.RawMessage) (string, error) {
	var res response.Produced
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("decode produced: %w", err)
	}
	if res.ID == "" {
		return "", errMissingID
	}
	return res.ID, nil
}

func (b bridge) OnNewConsumer(ctx context.Context, req response.NewConsumer) error {
	_, err := b.s.Consume(ctx, req.ID, req.ProducerID, req.Kind, req.RtpParameters)
	return err
}

func (b bridge) OnNewDataConsumer(ctx context.Context, req response.NewDataConsumer) error {
	_, err := b.s.ConsumeData(ctx, req.ID, req.DataProducerID, req.SctpStreamParameters, req.Label, req.Protocol)
	return err
}

// OnPeerLeft ends the session.
func (b bridge) OnPeerLeft(_ context.Context, n response.PeerLeft) {
	b.s.logger.Info().Str("peer", n.PeerID).Msg("peer left, closing session")
	_ = b.s.Close()
}
