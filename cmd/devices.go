package cmd

import (
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/webrtc/v4"

	// Capture drivers register themselves with mediadevices.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

const videoBitRate = 1_000_000

// newCodecSelector picks the encoders used for every captured track: VP8 for
// camera and screen, Opus for the microphone.
func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vp8, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vp8.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vp8),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// registerCodecs limits negotiation to the codecs the selector can encode.
func registerCodecs(selector *mediadevices.CodecSelector) func(*webrtc.MediaEngine) error {
	return func(me *webrtc.MediaEngine) error {
		selector.Populate(me)
		return nil
	}
}
