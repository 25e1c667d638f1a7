// Package mediatest provides scriptable capture devices for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Rupam798/VideoConferencing/internal/media"
)

// Track is an in-memory media.Track.
type Track struct {
	mu       sync.Mutex
	id       string
	kind     media.Kind
	enabled  bool
	state    media.ReadyState
	profile  media.VideoProfile
	onEnded  []func()
	stops    int
	applyErr error
}

func NewTrack(id string, kind media.Kind) *Track {
	return &Track{id: id, kind: kind, enabled: true}
}

func (t *Track) ID() string       { return t.id }
func (t *Track) Kind() media.Kind { return t.kind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *Track) ReadyState() media.ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stops++
	t.state = media.Ended
	t.mu.Unlock()
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

// RefuseConstraints makes ApplyConstraints fail with err.
func (t *Track) RefuseConstraints(err error) {
	t.mu.Lock()
	t.applyErr = err
	t.mu.Unlock()
}

func (t *Track) ApplyConstraints(p media.VideoProfile) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.applyErr != nil {
		return t.applyErr
	}
	t.profile = p
	return nil
}

// Profile is the last profile applied.
func (t *Track) Profile() media.VideoProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile
}

func (t *Track) OnEnded(f func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, f)
	t.mu.Unlock()
}

// End simulates the device going away: the track ends and OnEnded
// handlers run.
func (t *Track) End() {
	t.mu.Lock()
	t.state = media.Ended
	handlers := append([]func(){}, t.onEnded...)
	t.mu.Unlock()
	for _, f := range handlers {
		f()
	}
}

// Provider answers capture requests from a script. Each call consumes the
// next scripted error; once the script is empty every call succeeds.
type Provider struct {
	mu     sync.Mutex
	script []error
	calls  []media.Constraints
	tracks []*Track
	seq    int

	onRequest func(media.Constraints)
}

func NewProvider(script ...error) *Provider {
	return &Provider{script: script}
}

// Script appends errors for upcoming calls. A nil entry means success.
func (p *Provider) Script(errs ...error) {
	p.mu.Lock()
	p.script = append(p.script, errs...)
	p.mu.Unlock()
}

// OnRequest sets f to run after each GetUserMedia call has produced its
// result, before it returns.
func (p *Provider) OnRequest(f func(media.Constraints)) {
	p.mu.Lock()
	p.onRequest = f
	p.mu.Unlock()
}

func (p *Provider) GetUserMedia(_ context.Context, c media.Constraints) ([]media.Track, error) {
	tracks, err := p.getUserMedia(c)
	p.mu.Lock()
	hook := p.onRequest
	p.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return tracks, err
}

func (p *Provider) getUserMedia(c media.Constraints) ([]media.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, c)
	if len(p.script) > 0 {
		err := p.script[0]
		p.script = p.script[1:]
		if err != nil {
			return nil, err
		}
	}

	var out []media.Track
	if c.Audio {
		out = append(out, p.newTrack(media.Audio))
	}
	if c.Video {
		t := p.newTrack(media.Video)
		t.profile = c.Tier.Profile()
		out = append(out, t)
	}
	return out, nil
}

// GetDisplayMedia hands out a display video track; it shares the script.
func (p *Provider) GetDisplayMedia(ctx context.Context) (media.Track, error) {
	tracks, err := p.GetUserMedia(ctx, media.Constraints{Video: true, Tier: media.TierHigh})
	if err != nil {
		return nil, err
	}
	return tracks[0], nil
}

func (p *Provider) newTrack(kind media.Kind) *Track {
	p.seq++
	t := NewTrack(fmt.Sprintf("%s-%d", kind, p.seq), kind)
	p.tracks = append(p.tracks, t)
	return t
}

// Calls lists every request received, in order.
func (p *Provider) Calls() []media.Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]media.Constraints(nil), p.calls...)
}

// Tracks lists every track handed out, in order.
func (p *Provider) Tracks() []*Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Track(nil), p.tracks...)
}
