package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediabot/engine/enginetest"
	"mediabot/media"
	"mediabot/pkg/protootest"
	"mediabot/pkg/socket"
	"mediabot/session"
	"mediabot/types/message"
	"mediabot/types/request"
	"mediabot/types/response"
	"mediabot/types/rtc"
)

var routerCapabilities = rtc.RtpCapabilities{
	Codecs: []rtc.RtpCodecCapability{
		{Kind: rtc.MediaKindAudio, MimeType: "audio/opus", PreferredPayloadType: 100, ClockRate: 48000, Channels: 2},
		{Kind: rtc.MediaKindVideo, MimeType: "video/VP8", PreferredPayloadType: 101, ClockRate: 90000},
	},
}

func transportReply(id string) response.WebRtcTransport {
	return response.WebRtcTransport{
		ID:            id,
		IceParameters: rtc.IceParameters{UsernameFragment: "ufrag", Password: "pwd", IceLite: true},
		IceCandidates: []rtc.IceCandidate{{Foundation: "udp", Priority: 1, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}},
		DtlsParameters: rtc.DtlsParameters{
			Role:         rtc.DtlsRoleAuto,
			Fingerprints: []rtc.DtlsFingerprint{{Algorithm: "sha-256", Value: "11:22"}},
		},
	}
}

func newConsumer(id string) response.NewConsumer {
	return response.NewConsumer{
		PeerID:     "peer-1",
		ProducerID: "remote-" + id,
		ID:         id,
		Kind:       rtc.MediaKindVideo,
		RtpParameters: rtc.RtpParameters{
			Codecs:    []rtc.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000}},
			Encodings: []rtc.RtpEncodingParameters{{Ssrc: 1111}},
		},
	}
}

// newServer starts a signaling peer that accepts everything.
func newServer(t *testing.T) *protootest.Server {
	srv := protootest.NewServer()
	t.Cleanup(srv.Close)

	srv.Reply(request.MethodGetRouterRtpCapabilities, routerCapabilities)
	srv.Handle(request.MethodCreateWebRtcTransport, func(data json.RawMessage) (any, error) {
		var req request.CreateWebRtcTransport
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		if req.Producing {
			return transportReply("send-transport"), nil
		}
		return transportReply("recv-transport"), nil
	})
	srv.Reply(request.MethodConnectWebRtcTransport, nil)
	srv.Handle(request.MethodProduce, func(data json.RawMessage) (any, error) {
		var req request.Produce
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return response.Produced{ID: "producer-" + string(req.Kind)}, nil
	})
	srv.Reply(request.MethodProduceData, response.Produced{ID: "data-producer"})
	srv.Reply(request.MethodJoin, map[string]any{"peers": []any{}})
	srv.Reply(request.MethodLeaveRoom, nil)
	return srv
}

func newSource(t *testing.T, ctrl *gomock.Controller) (*media.MockSource, chan struct{}) {
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	require.NoError(t, err)
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)

	done := make(chan struct{})
	source := media.NewMockSource(ctrl)
	source.EXPECT().Video().Return(video).AnyTimes()
	source.EXPECT().Audio().Return(audio).AnyTimes()
	source.EXPECT().Start(gomock.Any()).Return(nil).AnyTimes()
	source.EXPECT().Done().Return((<-chan struct{})(done)).AnyTimes()
	source.EXPECT().Close().Return(nil).AnyTimes()
	return source, done
}

// stateRecorder collects state changes.
type stateRecorder struct {
	mu     sync.Mutex
	states []session.State
	ch     chan session.State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan session.State, 32)}
}

func (r *stateRecorder) observe(s session.State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	select {
	case r.ch <- s:
	default:
	}
}

func (r *stateRecorder) all() []session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.State, len(r.states))
	copy(out, r.states)
	return out
}

func (r *stateRecorder) waitFor(t *testing.T, want session.State) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("state %s not reached, saw %v", want, r.all())
		}
	}
}

func methods(msgs []message.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Method)
	}
	return out
}

func TestRun(t *testing.T) {
	t.Run("given cooperative server when run then negotiate in order and leave", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)
		device := enginetest.NewDevice()
		states := newStateRecorder()

		s := session.New(session.Config{URI: srv.URL(), Budget: 200 * time.Millisecond}, device, source, sink,
			session.WithStateObserver(states.observe))

		require.NoError(t, s.Run(context.Background()))

		assert.Equal(t, []string{
			request.MethodGetRouterRtpCapabilities,
			request.MethodCreateWebRtcTransport,
			request.MethodCreateWebRtcTransport,
			request.MethodJoin,
			request.MethodConnectWebRtcTransport,
			request.MethodProduce,
			request.MethodProduce,
			request.MethodLeaveRoom,
		}, methods(srv.Received()))
		assert.Equal(t, []session.State{
			session.Connecting,
			session.CapabilitiesLoaded,
			session.SendTransportReady,
			session.RecvTransportReady,
			session.Producing,
			session.Closing,
			session.Closed,
		}, states.all())

		sendCreated, recvCreated := device.Created()
		assert.Equal(t, 1, sendCreated)
		assert.Equal(t, 1, recvCreated)
		for _, tr := range device.Transports() {
			assert.True(t, tr.Closed())
		}

		var join request.Join
		require.NoError(t, json.Unmarshal(srv.Received()[3].Data, &join))
		assert.Equal(t, session.DefaultDisplayName, join.DisplayName)
		assert.Equal(t, session.DefaultDevice, join.Device)
		assert.Len(t, join.RtpCapabilities.Codecs, 2)
	})

	t.Run("given budget shorter than join wait when run then stop and leave", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		srv.Handle(request.MethodJoin, func(json.RawMessage) (any, error) {
			return nil, protootest.ErrNoReply
		})
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)

		s := session.New(session.Config{URI: srv.URL(), Budget: 100 * time.Millisecond, RequestTimeout: 5 * time.Second},
			enginetest.NewDevice(), source, sink)

		start := time.Now()
		require.NoError(t, s.Run(context.Background()))
		assert.Less(t, time.Since(start), 4*time.Second)
		assert.Equal(t, 0, srv.Count(request.MethodProduce))
		assert.Equal(t, 1, srv.Count(request.MethodLeaveRoom))
		assert.Equal(t, session.Closed, s.State())
	})

	t.Run("given join timeout when run then continue publishing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		srv.Handle(request.MethodJoin, func(json.RawMessage) (any, error) {
			return nil, protootest.ErrNoReply
		})
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)

		s := session.New(session.Config{URI: srv.URL(), Budget: time.Second, RequestTimeout: 100 * time.Millisecond},
			enginetest.NewDevice(), source, sink)

		require.NoError(t, s.Run(context.Background()))
		assert.Equal(t, 2, srv.Count(request.MethodProduce))
	})

	t.Run("given join rejection when run then skip publishing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		srv.Handle(request.MethodJoin, func(json.RawMessage) (any, error) {
			return nil, &protootest.Rejection{Code: 403, Reason: "room is full"}
		})
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)

		s := session.New(session.Config{URI: srv.URL(), Budget: time.Second}, enginetest.NewDevice(), source, sink)

		require.NoError(t, s.Run(context.Background()))
		assert.Equal(t, 0, srv.Count(request.MethodProduce))
		assert.Equal(t, 1, srv.Count(request.MethodLeaveRoom))
	})

	t.Run("given source that ends when run then leave before the budget", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		source, done := newSource(t, ctrl)
		close(done)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)

		s := session.New(session.Config{URI: srv.URL(), Budget: time.Minute}, enginetest.NewDevice(), source, sink)

		start := time.Now()
		require.NoError(t, s.Run(context.Background()))
		assert.Less(t, time.Since(start), 10*time.Second)
		assert.Equal(t, 1, srv.Count(request.MethodLeaveRoom))
	})

	t.Run("given data production enabled when run then produce data after media", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		srv.Handle(request.MethodCreateWebRtcTransport, func(data json.RawMessage) (any, error) {
			reply := transportReply("send-transport")
			reply.SctpParameters = &rtc.SctpParameters{Port: 5000, OS: 1024, MIS: 1024, MaxMessageSize: 262144}
			return reply, nil
		})
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)

		s := session.New(session.Config{URI: srv.URL(), Budget: 200 * time.Millisecond, ProduceData: true},
			enginetest.NewDevice(), source, sink)

		require.NoError(t, s.Run(context.Background()))
		require.Equal(t, 1, srv.Count(request.MethodProduceData))

		var req request.ProduceData
		for _, m := range srv.Received() {
			if m.Method == request.MethodProduceData {
				require.NoError(t, json.Unmarshal(m.Data, &req))
			}
		}
		assert.Equal(t, "chat", req.Label)
		assert.True(t, req.SctpStreamParameters.IsOrdered())
	})

	t.Run("given unreachable server when run then return connection error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)
		dialErr := errors.New("connection refused")

		s := session.New(session.Config{URI: "ws://127.0.0.1:1"}, enginetest.NewDevice(), source, sink,
			session.WithDialer(func(context.Context, string) (socket.Socket, error) {
				return nil, dialErr
			}))

		err := s.Run(context.Background())
		assert.ErrorIs(t, err, dialErr)
		assert.Equal(t, session.Closed, s.State())
	})

	t.Run("given broken control channel when run then return fatal error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)

		conn := socket.NewMockSocket(ctrl)
		conn.EXPECT().WriteJSON(gomock.Any()).Return(nil).AnyTimes()
		conn.EXPECT().ReadMessage().Return(nil, io.ErrUnexpectedEOF)
		conn.EXPECT().Close().Return(nil).AnyTimes()

		s := session.New(session.Config{URI: "ws://signaling.test"}, enginetest.NewDevice(), source, sink,
			session.WithDialer(func(context.Context, string) (socket.Socket, error) {
				return conn, nil
			}))

		err := s.Run(context.Background())
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestPeerLeft(t *testing.T) {
	ctrl := gomock.NewController(t)
	srv := newServer(t)
	source, _ := newSource(t, ctrl)
	sink := media.NewMockSink(ctrl)
	sink.EXPECT().Stop().Return(nil)
	states := newStateRecorder()

	s := session.New(session.Config{URI: srv.URL()}, enginetest.NewDevice(), source, sink,
		session.WithStateObserver(states.observe))
	require.NoError(t, s.Connect(context.Background()))
	<-srv.Connected()

	require.NoError(t, srv.Notify(response.MethodPeerLeft, response.PeerLeft{PeerID: "abc"}))
	states.waitFor(t, session.Closing)
	states.waitFor(t, session.Closed)

	assert.NoError(t, s.Close())
	_, err := s.CreateSendTransport(context.Background())
	assert.Error(t, err)
}

func TestServerPushedConsumers(t *testing.T) {
	t.Run("given two consumers before any producer when pushed then reply to both with one recv transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().AddTrack(gomock.Any()).Return(nil).Times(2)
		sink.EXPECT().Start(gomock.Any()).Return(nil).MinTimes(1)
		sink.EXPECT().Stop().Return(nil)
		device := enginetest.NewDevice()

		s := session.New(session.Config{URI: srv.URL()}, device, source, sink)
		defer func() { _ = s.Close() }()
		require.NoError(t, s.Connect(context.Background()))
		<-srv.Connected()

		first, err := srv.Request(response.MethodNewConsumer, newConsumer("consumer-1"))
		require.NoError(t, err)
		second, err := srv.Request(response.MethodNewConsumer, newConsumer("consumer-2"))
		require.NoError(t, err)

		require.NoError(t, s.Load(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		replies := map[int64]message.Message{}
		for len(replies) < 2 {
			res, err := srv.WaitResponse(ctx)
			require.NoError(t, err)
			replies[res.ID] = res
		}
		for _, id := range []int64{first, second} {
			res, ok := replies[id]
			require.True(t, ok, "no reply for %d", id)
			assert.True(t, res.OK)
			assert.JSONEq(t, `{}`, string(res.Data))
		}

		_, recvCreated := device.Created()
		assert.Equal(t, 1, recvCreated)
		assert.Equal(t, 1, srv.Count(request.MethodCreateWebRtcTransport))
		assert.Equal(t, 1, srv.Count(request.MethodConnectWebRtcTransport))
	})

	t.Run("given data consumer with inner id when pushed then reply with envelope id", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)

		s := session.New(session.Config{URI: srv.URL()}, enginetest.NewDevice(), source, sink)
		defer func() { _ = s.Close() }()
		require.NoError(t, s.Connect(context.Background()))
		require.NoError(t, s.Load(context.Background()))
		<-srv.Connected()

		require.NoError(t, srv.RequestWithID(77, response.MethodNewDataConsumer, response.NewDataConsumer{
			PeerID:               "peer-1",
			DataProducerID:       "remote-data",
			ID:                   "data-consumer-9",
			SctpStreamParameters: rtc.SctpStreamParameters{StreamID: 3},
			Label:                "chat",
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := srv.WaitResponse(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(77), res.ID)
		assert.True(t, res.OK)
	})

	t.Run("given recv transport rejected when consumer pushed then reply with error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		srv.Handle(request.MethodCreateWebRtcTransport, func(json.RawMessage) (any, error) {
			return nil, &protootest.Rejection{Code: 500, Reason: "no worker"}
		})
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)

		s := session.New(session.Config{URI: srv.URL()}, enginetest.NewDevice(), source, sink)
		defer func() { _ = s.Close() }()
		require.NoError(t, s.Connect(context.Background()))
		require.NoError(t, s.Load(context.Background()))
		<-srv.Connected()

		id, err := srv.Request(response.MethodNewConsumer, newConsumer("consumer-1"))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := srv.WaitResponse(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, res.ID)
		assert.False(t, res.OK)
		assert.Equal(t, 500, res.ErrorCode)
		assert.Contains(t, res.ErrorReason, "no worker")
	})
}

func TestCreateTransportIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	srv := newServer(t)
	source, _ := newSource(t, ctrl)
	sink := media.NewMockSink(ctrl)
	sink.EXPECT().Stop().Return(nil)
	device := enginetest.NewDevice()

	s := session.New(session.Config{URI: srv.URL()}, device, source, sink)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Load(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.CreateSendTransport(context.Background())
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.CreateRecvTransport(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sendCreated, recvCreated := device.Created()
	assert.Equal(t, 1, sendCreated)
	assert.Equal(t, 1, recvCreated)
	assert.Equal(t, 2, srv.Count(request.MethodCreateWebRtcTransport))
}

func TestClose(t *testing.T) {
	t.Run("given unconnected session when closed twice then succeed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(nil)

		s := session.New(session.Config{URI: "ws://signaling.test"}, enginetest.NewDevice(), source, sink)
		assert.Equal(t, session.StateNew, s.State())
		assert.Equal(t, "new", s.State().String())
		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())
		assert.Equal(t, session.Closed, s.State())
		assert.ErrorIs(t, s.Connect(context.Background()), session.ErrClosed)
	})

	t.Run("given failing sink when closed then still release everything", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().Stop().Return(errors.New("disk full"))
		device := enginetest.NewDevice()

		s := session.New(session.Config{URI: srv.URL()}, device, source, sink)
		require.NoError(t, s.Connect(context.Background()))
		require.NoError(t, s.Load(context.Background()))
		_, err := s.CreateSendTransport(context.Background())
		require.NoError(t, err)

		err = s.Close()
		assert.ErrorContains(t, err, "disk full")
		for _, tr := range device.Transports() {
			assert.True(t, tr.Closed())
		}
		assert.NoError(t, s.Close())
	})

	t.Run("given failing consumer when closed then close every endpoint once and keep going", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		srv := newServer(t)
		source, _ := newSource(t, ctrl)
		sink := media.NewMockSink(ctrl)
		sink.EXPECT().AddTrack(gomock.Any()).Return(nil)
		sink.EXPECT().Start(gomock.Any()).Return(nil)
		sink.EXPECT().Stop().Return(nil).Times(1)
		device := enginetest.NewDevice()
		device.FailClose("consumer-1", errors.New("receiver stuck"))

		s := session.New(session.Config{URI: srv.URL()}, device, source, sink)
		ctx := context.Background()
		require.NoError(t, s.Connect(ctx))
		require.NoError(t, s.Load(ctx))

		producer, err := s.ProduceTrack(ctx, source.Video())
		require.NoError(t, err)
		c := newConsumer("consumer-1")
		_, err = s.Consume(ctx, c.ID, c.ProducerID, c.Kind, c.RtpParameters)
		require.NoError(t, err)

		err = s.Close()
		assert.ErrorContains(t, err, "receiver stuck")
		assert.NoError(t, s.Close())

		assert.Equal(t, []string{"consumer-1", producer.ID()}, device.CloseCalls())
		transports := device.Transports()
		require.Len(t, transports, 2)
		for _, tr := range transports {
			assert.True(t, tr.Closed())
		}
		assert.Equal(t, session.Closed, s.State())
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  session.Config
		wantErr error
	}{
		{name: "given websocket uri when validated then accept", config: session.Config{URI: "wss://example.com/?roomId=a&peerId=b"}},
		{name: "given http uri when validated then return error", config: session.Config{URI: "https://example.com"}, wantErr: session.ErrInvalidURI},
		{name: "given empty uri when validated then return error", config: session.Config{}, wantErr: session.ErrInvalidURI},
		{name: "given negative budget when validated then return error", config: session.Config{URI: "ws://a", Budget: -time.Second}, wantErr: session.ErrInvalidBudget},
		{name: "given negative timeout when validated then return error", config: session.Config{URI: "ws://a", RequestTimeout: -time.Second}, wantErr: session.ErrInvalidTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
