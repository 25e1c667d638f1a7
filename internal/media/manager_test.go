package media_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/loop"
	"github.com/Rupam798/VideoConferencing/internal/media"
	"github.com/Rupam798/VideoConferencing/internal/media/mediatest"
)

type harness struct {
	sched    *loop.Manual
	provider *mediatest.Provider
	m        *media.Manager

	sessions []*media.CaptureSession
	states   []bool
	errs     []error
}

func newHarness(t *testing.T, opts media.Options, script ...error) *harness {
	t.Helper()
	h := &harness{
		sched:    loop.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		provider: mediatest.NewProvider(script...),
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	h.m = media.NewManager(h.sched, h.provider, opts, media.Events{
		OnSession:    func(next, _ *media.CaptureSession) { h.sessions = append(h.sessions, next) },
		OnTrackState: func(_ media.Kind, enabled bool) { h.states = append(h.states, enabled) },
		OnError:      func(err error) { h.errs = append(h.errs, err) },
	})
	t.Cleanup(h.m.Close)
	return h
}

type result struct {
	session *media.CaptureSession
	err     error
	done    bool
}

func (h *harness) initialize(audio, video bool) *result {
	r := &result{}
	h.sched.Post(func() {
		h.m.Initialize(audio, video, func(s *media.CaptureSession, err error) {
			r.session, r.err, r.done = s, err, true
		})
	})
	return r
}

type toggled struct {
	enabled bool
	err     error
	done    bool
}

func (h *harness) toggle(kind media.Kind) *toggled {
	r := &toggled{}
	h.sched.Post(func() {
		h.m.Toggle(kind, func(enabled bool, err error) {
			r.enabled, r.err, r.done = enabled, err, true
		})
	})
	return r
}

func mustTrack(t *testing.T, s *media.CaptureSession, kind media.Kind) *mediatest.Track {
	t.Helper()
	tr, ok := s.Track(kind).(*mediatest.Track)
	if !ok {
		t.Fatalf("session has no %s track", kind)
	}
	return tr
}

func TestInitializeAtMedium(t *testing.T) {
	h := newHarness(t, media.Options{})
	r := h.initialize(true, true)

	if !r.done || r.err != nil {
		t.Fatalf("Initialize: done=%v err=%v", r.done, r.err)
	}
	if r.session.Tier() != media.TierMedium || r.session.Audio() == nil || r.session.Video() == nil {
		t.Fatalf("session = tier %v audio %v video %v", r.session.Tier(), r.session.Audio(), r.session.Video())
	}
	if len(h.sessions) != 1 || h.sessions[0] != r.session {
		t.Fatalf("OnSession calls = %d", len(h.sessions))
	}
	if !h.m.Enabled(media.Audio) || !h.m.Enabled(media.Video) {
		t.Fatalf("tracks not enabled")
	}
}

func TestInitializeDegrades(t *testing.T) {
	h := newHarness(t, media.Options{}, callerr.ErrOverConstrained, callerr.ErrDeviceBusy)
	r := h.initialize(true, true)

	// A busy device with no spare budget moves straight to the next tier.
	if !r.done || r.err != nil {
		t.Fatalf("Initialize: done=%v err=%v", r.done, r.err)
	}

	want := []media.Constraints{
		{Audio: true, Video: true, Tier: media.TierMedium},
		{Audio: true, Video: true, Tier: media.TierLow},
		{Audio: true, Tier: media.TierLow},
	}
	calls := h.provider.Calls()
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
	if r.session.Video() != nil || r.session.Audio() == nil {
		t.Fatalf("want audio-only session")
	}
	if h.m.Enabled(media.Video) {
		t.Fatalf("video reported enabled without a track")
	}
}

func TestInitializeFatalError(t *testing.T) {
	h := newHarness(t, media.Options{}, callerr.ErrPermissionDenied)
	r := h.initialize(true, true)

	if !r.done || !errors.Is(r.err, callerr.ErrPermissionDenied) {
		t.Fatalf("err = %v", r.err)
	}
	if !callerr.UserVisible(r.err) {
		t.Fatalf("permission errors must be user visible")
	}
	if n := len(h.provider.Calls()); n != 1 {
		t.Fatalf("provider called %d times, want 1", n)
	}
	if len(h.errs) != 1 {
		t.Fatalf("OnError calls = %d", len(h.errs))
	}
}

func TestInitializeExhausted(t *testing.T) {
	busy := callerr.ErrDeviceBusy
	h := newHarness(t, media.Options{}, busy, busy, busy, busy)
	r := h.initialize(false, true)

	// Two tiers and four attempts: two backed-off retries at medium, then
	// low is tried at once.
	h.sched.Advance(time.Second)
	if r.done {
		t.Fatalf("finished early")
	}
	h.sched.Advance(2 * time.Second)

	if !r.done || !errors.Is(r.err, callerr.ErrCaptureExhausted) {
		t.Fatalf("err = %v", r.err)
	}
	if callerr.Recoverable(r.err) || !callerr.UserVisible(r.err) {
		t.Fatalf("exhaustion must be fatal and visible")
	}
	if n := len(h.provider.Calls()); n != 4 {
		t.Fatalf("attempts = %d, want 4", n)
	}
}

func TestToggleDoesNotReplaceSession(t *testing.T) {
	h := newHarness(t, media.Options{})
	r := h.initialize(true, true)
	video := mustTrack(t, r.session, media.Video)

	off := h.toggle(media.Video)
	if !off.done || off.err != nil || off.enabled {
		t.Fatalf("toggle off = %+v", off)
	}
	if video.Enabled() {
		t.Fatalf("video still enabled")
	}

	on := h.toggle(media.Video)
	if !on.enabled || !video.Enabled() {
		t.Fatalf("toggle on = %+v", on)
	}

	if len(h.sessions) != 1 {
		t.Fatalf("session replaced %d times", len(h.sessions)-1)
	}
	if n := len(h.provider.Calls()); n != 1 {
		t.Fatalf("provider called %d times", n)
	}
	if len(h.states) != 2 || h.states[0] || !h.states[1] {
		t.Fatalf("OnTrackState = %v", h.states)
	}
}

func TestToggleAddsMissingKind(t *testing.T) {
	h := newHarness(t, media.Options{})
	r := h.initialize(true, false)
	audio := mustTrack(t, r.session, media.Audio)

	on := h.toggle(media.Video)
	if !on.done || on.err != nil || !on.enabled {
		t.Fatalf("toggle = %+v", on)
	}

	calls := h.provider.Calls()
	if last := calls[len(calls)-1]; last != (media.Constraints{Video: true, Tier: media.TierMedium}) {
		t.Fatalf("acquired %v, want video alone", last)
	}
	s := h.m.Session()
	if s.Audio() != media.Track(audio) || audio.Stopped() {
		t.Fatalf("audio track was not kept")
	}
	if s.Video() == nil || s.StreamID() != r.session.StreamID() {
		t.Fatalf("merge produced a different stream")
	}
}

func TestToggleFallsBackToReplacement(t *testing.T) {
	h := newHarness(t, media.Options{})
	r := h.initialize(true, false)
	audio := mustTrack(t, r.session, media.Audio)
	audio.End()

	on := h.toggle(media.Video)
	if !on.done || !on.enabled {
		t.Fatalf("toggle = %+v", on)
	}

	calls := h.provider.Calls()
	want := media.Constraints{Audio: true, Video: true, Tier: media.TierMedium}
	if last := calls[len(calls)-1]; last != want {
		t.Fatalf("last call %v, want %v", last, want)
	}
	s := h.m.Session()
	if s.Audio() == media.Track(audio) || !audio.Stopped() {
		t.Fatalf("ended audio track was not replaced")
	}
	// The video track from the failed merge is released.
	if merged := h.provider.Tracks()[1]; !merged.Stopped() {
		t.Fatalf("unused merge track %s left running", merged.ID())
	}
}

func TestToggleDuringAcquisitionIsApplied(t *testing.T) {
	h := newHarness(t, media.Options{}, callerr.ErrDeviceBusy)
	r := h.initialize(false, true)
	off := h.toggle(media.Video)

	if r.done || off.done {
		t.Fatalf("ran before acquisition finished")
	}
	h.sched.Advance(time.Second)

	if !r.done || !off.done {
		t.Fatalf("initialize %v toggle %v", r.done, off.done)
	}
	if off.enabled || h.m.Enabled(media.Video) {
		t.Fatalf("video should be off after the queued toggle")
	}
}

func TestUpgradeInPlace(t *testing.T) {
	h := newHarness(t, media.Options{})
	r := h.initialize(true, true)
	video := mustTrack(t, r.session, media.Video)

	h.sched.Advance(5 * time.Second)

	if got := h.m.Session().Tier(); got != media.TierHigh {
		t.Fatalf("tier = %v, want high", got)
	}
	if video.Profile() != media.TierHigh.Profile() {
		t.Fatalf("profile = %+v", video.Profile())
	}
	if n := len(h.provider.Calls()); n != 1 {
		t.Fatalf("in-place upgrade should not reacquire")
	}

	h.sched.Advance(time.Minute)
	if h.m.Session().Tier() != media.TierHigh {
		t.Fatalf("quality changed after upgrade")
	}
}

func TestUpgradeByReacquisition(t *testing.T) {
	h := newHarness(t, media.Options{})
	r := h.initialize(true, true)
	video := mustTrack(t, r.session, media.Video)
	audio := mustTrack(t, r.session, media.Audio)
	video.RefuseConstraints(callerr.ErrUnsupported)

	h.sched.Advance(5 * time.Second)

	s := h.m.Session()
	if s.Tier() != media.TierHigh || s.Video() == media.Track(video) {
		t.Fatalf("session not replaced at high")
	}
	calls := h.provider.Calls()
	if last := calls[len(calls)-1]; last != (media.Constraints{Audio: true, Video: true, Tier: media.TierHigh}) {
		t.Fatalf("last call = %v", last)
	}
	if !video.Stopped() || !audio.Stopped() {
		t.Fatalf("replaced tracks not stopped")
	}
}

func TestUpgradeFailureKeepsQuality(t *testing.T) {
	h := newHarness(t, media.Options{})
	r := h.initialize(true, true)
	mustTrack(t, r.session, media.Video).RefuseConstraints(callerr.ErrUnsupported)
	h.provider.Script(callerr.ErrOverConstrained)

	h.sched.Advance(5 * time.Second)

	if h.m.Session() != r.session {
		t.Fatalf("session changed after failed upgrade")
	}
	if len(h.errs) != 0 {
		t.Fatalf("failed upgrade surfaced an error: %v", h.errs)
	}
}

func TestUpgradeSkippedWhileVideoDisabled(t *testing.T) {
	h := newHarness(t, media.Options{})
	h.initialize(true, true)
	h.toggle(media.Video)

	h.sched.Advance(5 * time.Second)
	if h.m.Session().Tier() != media.TierMedium {
		t.Fatalf("disabled video was upgraded")
	}
}

func TestLivenessReacquiresEndedTrack(t *testing.T) {
	h := newHarness(t, media.Options{UpgradeDelay: time.Hour})
	r := h.initialize(true, true)
	mustTrack(t, r.session, media.Video).End()

	h.sched.Advance(10 * time.Second)

	s := h.m.Session()
	if s == r.session || s.Video() == nil || s.Video().ReadyState() != media.Live {
		t.Fatalf("ended track not replaced")
	}
	if len(h.sessions) != 2 {
		t.Fatalf("OnSession calls = %d, want 2", len(h.sessions))
	}
	if !mustTrack(t, r.session, media.Audio).Stopped() {
		t.Fatalf("old session tracks left running")
	}
}

func TestLivenessIgnoresDisabledTrack(t *testing.T) {
	h := newHarness(t, media.Options{UpgradeDelay: time.Hour})
	r := h.initialize(true, true)
	h.toggle(media.Video)
	mustTrack(t, r.session, media.Video).End()

	h.sched.Advance(10 * time.Second)
	if h.m.Session() != r.session {
		t.Fatalf("disabled track triggered reacquisition")
	}
}

func TestEnsureVideo(t *testing.T) {
	h := newHarness(t, media.Options{})
	r := h.initialize(true, false)

	var got media.Track
	h.sched.Post(func() {
		h.m.EnsureVideo(func(tr media.Track, err error) {
			if err != nil {
				t.Errorf("EnsureVideo: %v", err)
			}
			got = tr
		})
	})
	if got == nil || got.Kind() != media.Video {
		t.Fatalf("EnsureVideo returned %v", got)
	}
	if h.m.Session().Video() != got || h.m.Session().Audio() != r.session.Audio() {
		t.Fatalf("camera not merged into session")
	}
}

func TestCloseStopsEverything(t *testing.T) {
	h := newHarness(t, media.Options{})
	h.initialize(true, true)

	h.sched.Post(h.m.Close)

	for _, tr := range h.provider.Tracks() {
		if !tr.Stopped() {
			t.Errorf("track %s still running", tr.ID())
		}
	}
	if n := h.sched.PendingTimers(); n != 0 {
		t.Fatalf("%d timers still armed", n)
	}

	r := h.toggle(media.Audio)
	if !errors.Is(r.err, callerr.ErrSessionClosed) {
		t.Fatalf("toggle after close = %v", r.err)
	}
}

// stoppedLoop drops continuations once stopped, like loop.Loop after Close.
type stoppedLoop struct {
	*loop.Manual
	stopped bool
}

func (s *stoppedLoop) Post(f func()) {
	if s.stopped {
		return
	}
	s.Manual.Post(f)
}

func (s *stoppedLoop) Go(work func() func()) {
	if cont := work(); cont != nil {
		s.Post(cont)
	}
}

func TestCloseDuringAcquisitionStopsTracks(t *testing.T) {
	sched := &stoppedLoop{Manual: loop.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))}
	provider := mediatest.NewProvider()
	m := media.NewManager(sched, provider, media.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, media.Events{})

	// The call leaves and its loop shuts down while the devices open.
	provider.OnRequest(func(media.Constraints) {
		m.Close()
		sched.stopped = true
	})
	called := false
	sched.Post(func() {
		m.Initialize(true, true, func(*media.CaptureSession, error) { called = true })
	})

	if called {
		t.Fatalf("Initialize completed after Close")
	}
	tracks := provider.Tracks()
	if len(tracks) != 2 {
		t.Fatalf("tracks = %d, want 2", len(tracks))
	}
	for _, tr := range tracks {
		if !tr.Stopped() {
			t.Errorf("track %s left running", tr.ID())
		}
	}
}

func TestCloseDuringUpgradeStopsTracks(t *testing.T) {
	sched := &stoppedLoop{Manual: loop.NewManual(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))}
	provider := mediatest.NewProvider()
	m := media.NewManager(sched, provider, media.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, media.Events{})

	var session *media.CaptureSession
	sched.Post(func() {
		m.Initialize(true, true, func(s *media.CaptureSession, _ error) { session = s })
	})
	mustTrack(t, session, media.Video).RefuseConstraints(callerr.ErrUnsupported)

	provider.OnRequest(func(media.Constraints) {
		m.Close()
		sched.stopped = true
	})
	sched.Advance(5 * time.Second)

	tracks := provider.Tracks()
	if len(tracks) != 4 {
		t.Fatalf("tracks = %d, want 4", len(tracks))
	}
	for _, tr := range tracks {
		if !tr.Stopped() {
			t.Errorf("track %s left running", tr.ID())
		}
	}
}
