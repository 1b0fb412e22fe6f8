package engine

import (
	"github.com/pion/webrtc/v4"

	"mediabot/media"
	"mediabot/types/rtc"
)

type producer struct {
	id     string
	kind   rtc.MediaKind
	sender *webrtc.RTPSender
}

func (p *producer) ID() string          { return p.id }
func (p *producer) Kind() rtc.MediaKind { return p.kind }
func (p *producer) Close() error        { return p.sender.Stop() }

// drainRTCP reads incoming RTCP so the interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type dataProducer struct {
	id      string
	channel *webrtc.DataChannel
}

func (p *dataProducer) ID() string             { return p.id }
func (p *dataProducer) Send(data []byte) error { return p.channel.Send(data) }
func (p *dataProducer) Close() error           { return p.channel.Close() }

type consumer struct {
	id         string
	producerID string
	kind       rtc.MediaKind
	receiver   *webrtc.RTPReceiver
}

func (c *consumer) ID() string               { return c.id }
func (c *consumer) ProducerID() string       { return c.producerID }
func (c *consumer) Kind() rtc.MediaKind      { return c.kind }
func (c *consumer) Track() media.RemoteTrack { return c.receiver.Track() }
func (c *consumer) Close() error             { return c.receiver.Stop() }

type dataConsumer struct {
	id             string
	dataProducerID string
	channel        *webrtc.DataChannel
}

func (c *dataConsumer) ID() string             { return c.id }
func (c *dataConsumer) DataProducerID() string { return c.dataProducerID }
func (c *dataConsumer) Close() error           { return c.channel.Close() }
