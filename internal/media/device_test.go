package media

import (
	"errors"
	"fmt"
	"image"
	"syscall"
	"testing"

	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/wave"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{fmt.Errorf("open /dev/video0: %w", syscall.EBUSY), callerr.ErrDeviceBusy},
		{errors.New("failed to find the best driver that fits the constraints"), callerr.ErrOverConstrained},
		{fmt.Errorf("open /dev/video0: %w", syscall.EACCES), callerr.ErrPermissionDenied},
		{fmt.Errorf("open /dev/video9: %w", syscall.ENODEV), callerr.ErrDeviceNotFound},
		{errors.New("codec vp9 unavailable"), callerr.ErrUnsupported},
	}
	for _, tt := range tests {
		got := classify(tt.in)
		if !errors.Is(got, tt.want) {
			t.Errorf("classify(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMuteVideo(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 4, 4))
	released := 0
	src := video.ReaderFunc(func() (image.Image, func(), error) {
		return frame, func() { released++ }, nil
	})

	tr := &deviceTrack{kind: Video}
	tr.enabled.Store(true)
	r := tr.muteVideo(src)

	img, _, err := r.Read()
	if err != nil || img != image.Image(frame) {
		t.Fatalf("enabled track altered frame: %v %v", img, err)
	}

	tr.SetEnabled(false)
	img, release, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	release()
	black, ok := img.(*image.YCbCr)
	if !ok || black.Rect != frame.Rect {
		t.Fatalf("disabled track produced %T %v", img, img.Bounds())
	}
	if black.Y[0] != 16 || black.Cb[0] != 128 {
		t.Fatalf("frame is not black")
	}
	if released != 1 {
		t.Fatalf("source frame released %d times, want 1", released)
	}
}

func TestMuteAudio(t *testing.T) {
	info := wave.ChunkInfo{Len: 4, Channels: 1, SamplingRate: 48000}
	chunk := wave.NewInt16Interleaved(info)
	for i := range chunk.Data {
		chunk.Data[i] = 1000
	}
	src := audio.ReaderFunc(func() (wave.Audio, func(), error) {
		return chunk, func() {}, nil
	})

	tr := &deviceTrack{kind: Audio}
	r := tr.muteAudio(src)

	got, _, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	silent, ok := got.(*wave.Int16Interleaved)
	if !ok || silent == chunk {
		t.Fatalf("disabled track passed audio through")
	}
	for _, v := range silent.Data {
		if v != 0 {
			t.Fatalf("sample %d not silent", v)
		}
	}
	if silent.ChunkInfo() != info {
		t.Fatalf("chunk info = %+v", silent.ChunkInfo())
	}
}
