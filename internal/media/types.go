// Package media acquires and maintains the local camera and microphone
// capture for a call.
package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Kind is the media kind of a track.
type Kind string

const (
	Audio Kind = "audio"
	Video Kind = "video"
)

// ReadyState mirrors a capture track's lifecycle.
type ReadyState int

const (
	Live ReadyState = iota
	Ended
)

func (s ReadyState) String() string {
	if s == Ended {
		return "ended"
	}
	return "live"
}

// Track is one local capture track.
type Track interface {
	ID() string
	Kind() Kind

	// Enabled reports whether the track produces real media. A disabled
	// track stays attached to every connection and sends silence or black.
	Enabled() bool
	SetEnabled(bool)

	ReadyState() ReadyState

	// Stop releases the device. The track is ended afterwards.
	Stop()

	// ApplyConstraints changes the capture profile in place.
	ApplyConstraints(VideoProfile) error

	// OnEnded registers f to run when the track ends for a reason other
	// than Stop, such as the device going away. f may run on any goroutine.
	OnEnded(f func())
}

// Tier is a video quality level.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// VideoProfile is the resolution and frame rate of a tier.
type VideoProfile struct {
	Width     int
	Height    int
	FrameRate float64
}

func (t Tier) Profile() VideoProfile {
	switch t {
	case TierLow:
		return VideoProfile{Width: 320, Height: 240, FrameRate: 15}
	case TierHigh:
		return VideoProfile{Width: 1280, Height: 720, FrameRate: 30}
	}
	return VideoProfile{Width: 640, Height: 480, FrameRate: 24}
}

// Constraints describe one capture request. Tier only applies to video.
type Constraints struct {
	Audio bool
	Video bool
	Tier  Tier
}

func (c Constraints) String() string {
	switch {
	case c.Audio && c.Video:
		return "audio+video@" + c.Tier.String()
	case c.Video:
		return "video@" + c.Tier.String()
	case c.Audio:
		return "audio"
	}
	return "none"
}

// Provider opens capture devices. Errors must match one of the callerr
// device sentinels with errors.Is.
type Provider interface {
	GetUserMedia(ctx context.Context, c Constraints) ([]Track, error)
}

// CaptureSession is an immutable set of local tracks. The manager replaces
// it whenever its tracks or tier change.
type CaptureSession struct {
	id    string
	audio Track
	video Track
	tier  Tier
}

// NewCaptureSession groups tracks into a session. Extra tracks of a kind
// already present are ignored.
func NewCaptureSession(tier Tier, tracks ...Track) *CaptureSession {
	s := &CaptureSession{id: uuid.NewString(), tier: tier}
	for _, t := range tracks {
		switch t.Kind() {
		case Audio:
			if s.audio == nil {
				s.audio = t
			}
		case Video:
			if s.video == nil {
				s.video = t
			}
		}
	}
	return s
}

// StreamID identifies the session as a stream.
func (s *CaptureSession) StreamID() string { return s.id }

func (s *CaptureSession) Tier() Tier   { return s.tier }
func (s *CaptureSession) Audio() Track { return s.audio }
func (s *CaptureSession) Video() Track { return s.video }

// Track returns the track of kind k, or nil.
func (s *CaptureSession) Track(k Kind) Track {
	if s == nil {
		return nil
	}
	if k == Audio {
		return s.audio
	}
	return s.video
}

// Tracks lists the present tracks, audio first.
func (s *CaptureSession) Tracks() []Track {
	var out []Track
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

// Enabled reports whether a live, enabled track of kind k is present.
func (s *CaptureSession) Enabled(k Kind) bool {
	t := s.Track(k)
	return t != nil && t.ReadyState() == Live && t.Enabled()
}

// Stop stops every track.
func (s *CaptureSession) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

func (s *CaptureSession) withTier(tier Tier) *CaptureSession {
	next := *s
	next.tier = tier
	return &next
}

// merge returns a new session with t added and everything else kept.
func (s *CaptureSession) merge(t Track) *CaptureSession {
	next := &CaptureSession{id: s.id, audio: s.audio, video: s.video, tier: s.tier}
	if t.Kind() == Audio {
		next.audio = t
	} else {
		next.video = t
	}
	return next
}

func (s *CaptureSession) allLive() bool {
	for _, t := range s.Tracks() {
		if t.ReadyState() != Live {
			return false
		}
	}
	return true
}

func (s *CaptureSession) has(t Track) bool {
	return t != nil && (s.audio == t || s.video == t)
}
