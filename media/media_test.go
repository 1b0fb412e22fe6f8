package media_test

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediabot/media"
)

// fakeTrack hands out queued packets and then io.EOF.
type fakeTrack struct {
	id      string
	codec   webrtc.RTPCodecParameters
	packets chan *rtp.Packet

	mu   sync.Mutex
	read int
}

func newFakeTrack(id, mime string, n int) *fakeTrack {
	t := &fakeTrack{
		id:      id,
		codec:   webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: mime}},
		packets: make(chan *rtp.Packet, n),
	}
	for i := 0; i < n; i++ {
		t.packets <- &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xf8, 0xff, 0xfe},
		}
	}
	close(t.packets)
	return t
}

func (t *fakeTrack) ID() string                       { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType        { return webrtc.RTPCodecTypeAudio }
func (t *fakeTrack) Codec() webrtc.RTPCodecParameters { return t.codec }

func (t *fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-t.packets
	if !ok {
		return nil, nil, io.EOF
	}
	t.mu.Lock()
	t.read++
	t.mu.Unlock()
	return p, nil, nil
}

func (t *fakeTrack) readCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read
}

func TestBlackhole(t *testing.T) {
	sink := media.NewBlackhole()
	before := newFakeTrack("a", webrtc.MimeTypeOpus, 10)
	after := newFakeTrack("b", webrtc.MimeTypeVP8, 5)

	require.NoError(t, sink.AddTrack(before))
	require.NoError(t, sink.Start(context.Background()))
	require.NoError(t, sink.Start(context.Background()), "second start must be a no-op")
	require.NoError(t, sink.AddTrack(after))

	assert.Eventually(t, func() bool {
		return before.readCount() == 10 && after.readCount() == 5
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sink.Stop())
	require.NoError(t, sink.Stop())
	assert.ErrorIs(t, sink.AddTrack(newFakeTrack("c", webrtc.MimeTypeOpus, 1)), media.ErrSinkStopped)
	assert.ErrorIs(t, sink.Start(context.Background()), media.ErrSinkStopped)
}

func TestBlackholeStopBeforeStart(t *testing.T) {
	sink := media.NewBlackhole()
	require.NoError(t, sink.AddTrack(newFakeTrack("a", webrtc.MimeTypeOpus, 1)))
	assert.NoError(t, sink.Stop())
}

func TestRecorder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rec")
	sink, err := media.NewRecorder(dir)
	require.NoError(t, err)

	opus := newFakeTrack("opus-consumer", webrtc.MimeTypeOpus, 20)
	other := newFakeTrack("g722-consumer", "audio/G722", 3)
	require.NoError(t, sink.AddTrack(opus))
	require.NoError(t, sink.AddTrack(other))
	require.NoError(t, sink.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return opus.readCount() == 20 && other.readCount() == 3
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, sink.Stop())

	info, err := os.Stat(filepath.Join(dir, "opus-consumer.ogg"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = os.Stat(filepath.Join(dir, "g722-consumer.ogg"))
	assert.True(t, os.IsNotExist(err))
}

func writeIVFHeader(t *testing.T, path string, den, num, frames uint32) {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 640)
	binary.LittleEndian.PutUint16(header[14:16], 480)
	binary.LittleEndian.PutUint32(header[16:20], den)
	binary.LittleEndian.PutUint32(header[20:24], num)
	binary.LittleEndian.PutUint32(header[24:28], frames)
	require.NoError(t, os.WriteFile(path, header, 0o644))
}

func TestDuration(t *testing.T) {
	dir := t.TempDir()

	t.Run("given ivf header when probed then return frames times timebase", func(t *testing.T) {
		path := filepath.Join(dir, "clip.ivf")
		writeIVFHeader(t, path, 30, 1, 300)
		got, err := media.Duration(path)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, got)
	})

	t.Run("given ivf header with zero timebase when probed then return error", func(t *testing.T) {
		path := filepath.Join(dir, "broken.ivf")
		writeIVFHeader(t, path, 0, 1, 300)
		_, err := media.Duration(path)
		assert.ErrorIs(t, err, media.ErrInvalidTimebase)
	})

	t.Run("given ogg file when probed then return last granule in seconds", func(t *testing.T) {
		path := filepath.Join(dir, "clip.ogg")
		w, err := oggwriter.New(path, 48000, 2)
		require.NoError(t, err)
		for i := 0; i < 51; i++ {
			require.NoError(t, w.WriteRTP(&rtp.Packet{
				Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(1000 + i*960)},
				Payload: []byte{0xf8, 0xff, 0xfe},
			}))
		}
		require.NoError(t, w.Close())

		got, err := media.Duration(path)
		require.NoError(t, err)
		assert.InDelta(t, float64(time.Second), float64(got), float64(50*time.Millisecond))
	})

	t.Run("given mp4 file when probed then return unsupported error", func(t *testing.T) {
		_, err := media.Duration(filepath.Join(dir, "clip.mp4"))
		assert.ErrorIs(t, err, media.ErrUnsupportedContainer)
	})

	t.Run("given missing file when probed then return error", func(t *testing.T) {
		_, err := media.Duration(filepath.Join(dir, "missing.ivf"))
		assert.Error(t, err)
	})
}

func TestPlayer(t *testing.T) {
	t.Run("given no files when created then tracks are synthetic", func(t *testing.T) {
		p, err := media.NewPlayer(media.PlayerConfig{})
		require.NoError(t, err)
		assert.Equal(t, webrtc.MimeTypeVP8, p.Video().Codec().MimeType)
		assert.Equal(t, webrtc.MimeTypeOpus, p.Audio().Codec().MimeType)
		assert.Equal(t, webrtc.RTPCodecTypeVideo, p.Video().Kind())

		require.NoError(t, p.Start(context.Background()))
		require.NoError(t, p.Start(context.Background()))
		select {
		case <-p.Done():
			t.Fatal("synthetic player must not finish")
		case <-time.After(50 * time.Millisecond):
		}
		assert.NoError(t, p.Close())
		assert.NoError(t, p.Close())
		assert.Error(t, p.Start(context.Background()))
	})

	t.Run("given empty ivf file when played then done closes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.ivf")
		writeIVFHeader(t, path, 30, 1, 0)

		p, err := media.NewPlayer(media.PlayerConfig{VideoFile: path})
		require.NoError(t, err)
		defer func() { _ = p.Close() }()
		require.NoError(t, p.Start(context.Background()))

		select {
		case <-p.Done():
		case <-time.After(time.Second):
			t.Fatal("player did not finish")
		}
	})

	t.Run("given invalid video file when created then return error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.ivf")
		require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
		_, err := media.NewPlayer(media.PlayerConfig{VideoFile: path})
		assert.Error(t, err)
	})
}
