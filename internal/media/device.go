package media

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/logging"
)

// DeviceProvider captures from the drivers registered with pion/mediadevices.
// The binary decides which drivers exist by importing them.
type DeviceProvider struct {
	codecs *mediadevices.CodecSelector
	log    *slog.Logger
}

func NewDeviceProvider(codecs *mediadevices.CodecSelector, log *slog.Logger) *DeviceProvider {
	return &DeviceProvider{codecs: codecs, log: logging.Or(log).With("component", "devices")}
}

func (p *DeviceProvider) GetUserMedia(ctx context.Context, c Constraints) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Audio && !hasDevice(mediadevices.AudioInput, driver.Microphone) {
		return nil, callerr.Wrap("capture", callerr.ErrDeviceNotFound, "no microphone")
	}
	if c.Video && !hasDevice(mediadevices.VideoInput, driver.Camera) {
		return nil, callerr.Wrap("capture", callerr.ErrDeviceNotFound, "no camera")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: p.codecs}
	if c.Video {
		profile := c.Tier.Profile()
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.Width = prop.Int(profile.Width)
			mc.Height = prop.Int(profile.Height)
			mc.FrameRate = prop.Float(float32(profile.FrameRate))
		}
	}
	if c.Audio {
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			mc.SampleRate = prop.Int(48000)
			mc.ChannelCount = prop.Int(1)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classify(err)
	}
	p.log.Debug("capture opened", "constraints", c.String(), "tracks", len(stream.GetTracks()))
	return wrapAll(stream.GetTracks()), nil
}

// GetDisplayMedia captures the screen. Display audio is never requested.
func (p *DeviceProvider) GetDisplayMedia(ctx context.Context) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !hasDevice(mediadevices.VideoInput, driver.Screen) {
		return nil, callerr.Wrap("display capture", callerr.ErrUnsupported, "no screen driver")
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: p.codecs,
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameRate = prop.Float(15)
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, callerr.Wrap("display capture", callerr.ErrUnsupported, "no video track")
	}
	for _, extra := range tracks[1:] {
		extra.Close()
	}
	return wrap(tracks[0]), nil
}

func hasDevice(kind mediadevices.MediaDeviceType, typ driver.DeviceType) bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == kind && d.DeviceType == typ {
			return true
		}
	}
	return false
}

// classify maps driver errors onto the capture error taxonomy.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	var sentinel error
	switch {
	case errors.Is(err, syscall.EBUSY) || strings.Contains(msg, "busy"):
		sentinel = callerr.ErrDeviceBusy
	case errors.Is(err, os.ErrPermission) || strings.Contains(msg, "permission"):
		sentinel = callerr.ErrPermissionDenied
	case strings.Contains(msg, "fits the constraints") || strings.Contains(msg, "constraint"):
		sentinel = callerr.ErrOverConstrained
	case errors.Is(err, syscall.ENODEV) || errors.Is(err, os.ErrNotExist) || strings.Contains(msg, "not found"):
		sentinel = callerr.ErrDeviceNotFound
	default:
		sentinel = callerr.ErrUnsupported
	}
	return callerr.Wrap("capture", sentinel, err.Error())
}

func wrapAll(src []mediadevices.Track) []Track {
	out := make([]Track, 0, len(src))
	for _, t := range src {
		out = append(out, wrap(t))
	}
	return out
}

// deviceTrack adapts a mediadevices track. Disabling swaps frames for black
// video or silent audio so the encoder keeps running and peers need no
// renegotiation.
type deviceTrack struct {
	src     mediadevices.Track
	kind    Kind
	enabled atomic.Bool

	mu       sync.Mutex
	state    ReadyState
	stopped  bool
	handlers []func()
}

func wrap(src mediadevices.Track) *deviceTrack {
	t := &deviceTrack{src: src, kind: Video}
	if src.Kind() == webrtc.RTPCodecTypeAudio {
		t.kind = Audio
	}
	t.enabled.Store(true)

	switch v := src.(type) {
	case *mediadevices.VideoTrack:
		v.Transform(t.muteVideo)
	case *mediadevices.AudioTrack:
		v.Transform(t.muteAudio)
	}
	src.OnEnded(func(error) { t.ended() })
	return t
}

func (t *deviceTrack) ID() string        { return t.src.ID() }
func (t *deviceTrack) Kind() Kind        { return t.kind }
func (t *deviceTrack) Enabled() bool     { return t.enabled.Load() }
func (t *deviceTrack) SetEnabled(v bool) { t.enabled.Store(v) }

// TrackLocal exposes the track for attaching to a peer connection.
func (t *deviceTrack) TrackLocal() webrtc.TrackLocal { return t.src }

func (t *deviceTrack) ReadyState() ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *deviceTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.state = Ended
	t.mu.Unlock()
	t.src.Close()
}

func (t *deviceTrack) ApplyConstraints(VideoProfile) error {
	return callerr.Wrap("apply constraints", callerr.ErrUnsupported, "capture driver cannot reconfigure a running track")
}

func (t *deviceTrack) OnEnded(f func()) {
	t.mu.Lock()
	t.handlers = append(t.handlers, f)
	t.mu.Unlock()
}

func (t *deviceTrack) ended() {
	t.mu.Lock()
	if t.stopped || t.state == Ended {
		t.mu.Unlock()
		return
	}
	t.state = Ended
	handlers := append([]func(){}, t.handlers...)
	t.mu.Unlock()
	for _, f := range handlers {
		f()
	}
}

func (t *deviceTrack) muteVideo(r video.Reader) video.Reader {
	var black *image.YCbCr
	return video.ReaderFunc(func() (image.Image, func(), error) {
		img, release, err := r.Read()
		if err != nil || t.enabled.Load() {
			return img, release, err
		}
		b := img.Bounds()
		if release != nil {
			release()
		}
		if black == nil || black.Rect != b {
			black = blackFrame(b)
		}
		return black, func() {}, nil
	})
}

func blackFrame(r image.Rectangle) *image.YCbCr {
	img := image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = 16
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}
	return img
}

func (t *deviceTrack) muteAudio(r audio.Reader) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, release, err := r.Read()
		if err != nil || t.enabled.Load() {
			return chunk, release, err
		}
		info := chunk.ChunkInfo()
		if release != nil {
			release()
		}
		if _, ok := chunk.(*wave.Float32Interleaved); ok {
			return wave.NewFloat32Interleaved(info), func() {}, nil
		}
		return wave.NewInt16Interleaved(info), func() {}, nil
	})
}
