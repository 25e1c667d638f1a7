package media

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/logging"
	"github.com/Rupam798/VideoConferencing/internal/loop"
)

const (
	DefaultUpgradeDelay     = 5 * time.Second
	DefaultLivenessInterval = 10 * time.Second
	DefaultBackoffBase      = time.Second
)

// Options tunes the manager's timers.
type Options struct {
	UpgradeDelay     time.Duration
	LivenessInterval time.Duration
	BackoffBase      time.Duration
	MaxAttempts      int
	Logger           *slog.Logger
}

func (o *Options) defaults() {
	if o.UpgradeDelay <= 0 {
		o.UpgradeDelay = DefaultUpgradeDelay
	}
	if o.LivenessInterval <= 0 {
		o.LivenessInterval = DefaultLivenessInterval
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
}

// Events are called on the loop.
type Events struct {
	// OnSession reports a new capture session. prev is nil the first time.
	// Tracks of prev not in next have already been stopped.
	OnSession func(next, prev *CaptureSession)

	// OnTrackState reports an enable or disable of an existing track.
	OnTrackState func(kind Kind, enabled bool)

	// OnError reports failures the manager could not recover from alone.
	OnError func(error)
}

// Manager owns the local capture session. All methods must be called on
// the scheduler's loop; callbacks run there too.
type Manager struct {
	sched    loop.Scheduler
	provider Provider
	opts     Options
	events   Events
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	session *CaptureSession
	enabled map[Kind]bool

	// busy is set while an acquisition or upgrade is in flight. Operations
	// that need the device wait in deferred.
	busy     bool
	deferred []func()

	upgradeTimer  loop.Timer
	livenessTimer loop.Timer
	retryTimer    loop.Timer

	closed bool
}

func NewManager(sched loop.Scheduler, provider Provider, opts Options, events Events) *Manager {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sched:    sched,
		provider: provider,
		opts:     opts,
		events:   events,
		log:      logging.Or(opts.Logger).With("component", "media"),
		ctx:      ctx,
		cancel:   cancel,
		enabled:  map[Kind]bool{Audio: false, Video: false},
	}
}

// Session returns the current capture session, or nil before the first
// successful acquisition.
func (m *Manager) Session() *CaptureSession {
	return m.session
}

// Enabled reports whether kind is currently being sent.
func (m *Manager) Enabled(kind Kind) bool {
	return m.session.Enabled(kind)
}

// Initialize acquires the first session, degrading through Tiers until
// something works.
func (m *Manager) Initialize(audio, video bool, done func(*CaptureSession, error)) {
	if m.closed {
		done(nil, callerr.ErrSessionClosed)
		return
	}
	if m.busy {
		m.deferred = append(m.deferred, func() { m.Initialize(audio, video, done) })
		return
	}

	m.enabled[Audio] = audio
	m.enabled[Video] = video

	m.run(Tiers(audio, video, TierMedium), func(tracks []Track, c Constraints, err error) {
		if err != nil {
			m.reportError(err)
			done(nil, err)
			return
		}
		s := m.newSession(c.Tier, tracks)
		m.install(s)
		if c != Tiers(audio, video, TierMedium)[0] {
			m.log.Info("capture degraded", "constraints", c.String())
		}
		done(s, nil)
	})
}

// ToggleAudio flips the microphone. See Toggle.
func (m *Manager) ToggleAudio(done func(enabled bool, err error)) {
	m.Toggle(Audio, done)
}

// ToggleVideo flips the camera. See Toggle.
func (m *Manager) ToggleVideo(done func(enabled bool, err error)) {
	m.Toggle(Video, done)
}

// Toggle enables or disables the track of kind in place. When there is no
// live track of that kind it is acquired and merged into the session, or
// the whole session is replaced if merging is not possible.
func (m *Manager) Toggle(kind Kind, done func(enabled bool, err error)) {
	if m.closed {
		done(false, callerr.ErrSessionClosed)
		return
	}

	if t := m.session.Track(kind); t != nil && t.ReadyState() == Live {
		next := !t.Enabled()
		t.SetEnabled(next)
		m.enabled[kind] = next
		if next && kind == Video && m.upgradeTimer == nil && m.session.Tier() < TierHigh {
			m.upgradeTimer = m.sched.AfterFunc(m.opts.UpgradeDelay, m.upgrade)
		}
		m.log.Debug("track toggled", "kind", kind, "enabled", next)
		if m.events.OnTrackState != nil {
			m.events.OnTrackState(kind, next)
		}
		done(next, nil)
		return
	}

	if m.busy {
		m.deferred = append(m.deferred, func() { m.Toggle(kind, done) })
		return
	}

	m.add(kind, func(t Track, err error) {
		done(t != nil && t.Enabled(), err)
	})
}

// EnsureVideo returns a live camera track, acquiring one if the session has
// none.
func (m *Manager) EnsureVideo(done func(Track, error)) {
	if m.closed {
		done(nil, callerr.ErrSessionClosed)
		return
	}
	if t := m.session.Track(Video); t != nil && t.ReadyState() == Live {
		done(t, nil)
		return
	}
	if m.busy {
		m.deferred = append(m.deferred, func() { m.EnsureVideo(done) })
		return
	}
	m.add(Video, done)
}

// add acquires kind alone and merges it into the current session, falling
// back to replacing the session.
func (m *Manager) add(kind Kind, done func(Track, error)) {
	m.enabled[kind] = true
	prev := m.session

	m.run(Tiers(kind == Audio, kind == Video, TierMedium), func(tracks []Track, c Constraints, err error) {
		var t Track
		if err == nil {
			t = m.pick(kind, tracks)
			tracks = nil
			if t != nil {
				tracks = []Track{t}
			}
		}
		if t != nil && prev != nil && m.session == prev && others(prev, kind).allLive() {
			next := prev.merge(t)
			if kind == Video {
				next = next.withTier(c.Tier)
			}
			m.install(next)
			done(t, nil)
			return
		}

		if err == nil {
			stopAll(tracks)
		} else {
			m.log.Warn("could not add track, replacing session", "kind", kind, "error", err)
		}

		audio := kind == Audio || prev.Track(Audio) != nil
		video := kind == Video || prev.Track(Video) != nil
		m.run(Tiers(audio, video, TierMedium), func(tracks []Track, c Constraints, err error) {
			if err != nil {
				m.enabled[kind] = false
				m.reportError(err)
				done(nil, err)
				return
			}
			next := m.newSession(c.Tier, tracks)
			m.install(next)
			done(next.Track(kind), nil)
		})
	})
}

// others is s without the track of kind.
func others(s *CaptureSession, kind Kind) *CaptureSession {
	rest := &CaptureSession{}
	if kind != Audio {
		rest.audio = s.audio
	}
	if kind != Video {
		rest.video = s.video
	}
	return rest
}

// Close stops every track and timer. The manager is unusable afterwards.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()

	for _, t := range []loop.Timer{m.upgradeTimer, m.livenessTimer, m.retryTimer} {
		if t != nil {
			t.Stop()
		}
	}
	m.upgradeTimer, m.livenessTimer, m.retryTimer = nil, nil, nil
	m.deferred = nil

	if m.session != nil {
		m.session.Stop()
	}
}

// run executes one acquisition cycle over tiers. onDone runs with busy
// cleared so it may start another cycle; deferred work runs after it.
func (m *Manager) run(tiers []Constraints, onDone func([]Track, Constraints, error)) {
	if len(tiers) == 0 {
		onDone(nil, Constraints{}, callerr.Wrap("acquire", callerr.ErrUnsupported, "no media kinds requested"))
		return
	}
	m.busy = true
	p := newPlan(tiers, m.opts.MaxAttempts, m.opts.BackoffBase)
	m.attempt(p, func(tracks []Track, c Constraints, err error) {
		m.busy = false
		onDone(tracks, c, err)
		m.drain()
	})
}

func (m *Manager) attempt(p *plan, finish func([]Track, Constraints, error)) {
	c := p.current()
	p.begin()
	m.log.Debug("requesting capture", "constraints", c.String(), "attempt", p.attempts)

	ctx := m.ctx
	m.sched.Go(func() func() {
		tracks, err := m.acquire(ctx, c)
		if err == errAbandoned {
			return nil
		}
		return func() {
			if m.closed {
				stopAll(tracks)
				return
			}
			if err == nil {
				finish(tracks, c, nil)
				return
			}

			s := p.fail(err)
			m.log.Warn("capture attempt failed", "constraints", c.String(), "attempt", p.attempts, "error", err)
			switch {
			case s.done:
				finish(nil, c, s.err)
			case s.wait > 0:
				m.retryTimer = m.sched.AfterFunc(s.wait, func() {
					m.retryTimer = nil
					m.attempt(p, finish)
				})
			default:
				m.attempt(p, finish)
			}
		}
	})
}

var errAbandoned = errors.New("media: acquisition abandoned")

// acquire runs off the loop. Tracks that arrive after Close are stopped
// here since the loop may already be gone.
func (m *Manager) acquire(ctx context.Context, c Constraints) ([]Track, error) {
	tracks, err := m.provider.GetUserMedia(ctx, c)
	if ctx.Err() != nil {
		stopAll(tracks)
		return nil, errAbandoned
	}
	return tracks, err
}

func (m *Manager) drain() {
	for !m.busy && !m.closed && len(m.deferred) > 0 {
		next := m.deferred[0]
		m.deferred = m.deferred[1:]
		next()
	}
}

// newSession keeps one track per kind and stops any extras the provider
// returned.
func (m *Manager) newSession(tier Tier, tracks []Track) *CaptureSession {
	s := NewCaptureSession(tier, tracks...)
	for _, t := range tracks {
		if !s.has(t) {
			t.Stop()
		}
	}
	return s
}

// pick returns the first track of kind and stops the rest.
func (m *Manager) pick(kind Kind, tracks []Track) Track {
	var chosen Track
	for _, t := range tracks {
		if chosen == nil && t.Kind() == kind {
			chosen = t
			continue
		}
		t.Stop()
	}
	return chosen
}

// install swaps in next, applying the wanted enabled flags and stopping
// tracks of the old session that did not carry over.
func (m *Manager) install(next *CaptureSession) {
	prev := m.session

	for _, k := range []Kind{Audio, Video} {
		if t := next.Track(k); t != nil {
			t.SetEnabled(m.enabled[k])
		} else {
			m.enabled[k] = false
		}
	}

	m.session = next
	if prev != nil {
		for _, t := range prev.Tracks() {
			if !next.has(t) {
				t.Stop()
			}
		}
	}

	if m.upgradeTimer != nil {
		m.upgradeTimer.Stop()
		m.upgradeTimer = nil
	}
	if next.Video() != nil && next.Tier() < TierHigh {
		m.upgradeTimer = m.sched.AfterFunc(m.opts.UpgradeDelay, m.upgrade)
	}
	if m.livenessTimer == nil {
		m.livenessTimer = m.sched.AfterFunc(m.opts.LivenessInterval, m.checkLiveness)
	}

	m.log.Info("capture session ready", "tier", next.Tier().String(),
		"audio", next.Audio() != nil, "video", next.Video() != nil)
	if m.events.OnSession != nil {
		m.events.OnSession(next, prev)
	}
}

// upgrade raises a live, enabled video track to the high tier: in place if
// the track accepts new constraints, otherwise by acquiring a replacement.
// Failure keeps the current quality.
func (m *Manager) upgrade() {
	m.upgradeTimer = nil
	s := m.session
	if m.closed || s == nil || s.Tier() >= TierHigh {
		return
	}
	v := s.Video()
	if v == nil || v.ReadyState() != Live || !v.Enabled() {
		return
	}
	if m.busy {
		m.upgradeTimer = m.sched.AfterFunc(m.opts.UpgradeDelay, m.upgrade)
		return
	}

	m.busy = true
	ctx := m.ctx
	m.sched.Go(func() func() {
		err := v.ApplyConstraints(TierHigh.Profile())
		return func() {
			if m.closed {
				return
			}
			if err == nil {
				m.busy = false
				if m.session == s {
					m.install(s.withTier(TierHigh))
				}
				m.drain()
				return
			}

			m.log.Debug("in-place upgrade refused, reacquiring", "error", err)
			c := Constraints{Audio: s.Audio() != nil, Video: true, Tier: TierHigh}
			m.sched.Go(func() func() {
				tracks, err := m.acquire(ctx, c)
				if err == errAbandoned {
					return nil
				}
				return func() {
					if m.closed {
						stopAll(tracks)
						return
					}
					m.busy = false
					switch {
					case err != nil:
						m.log.Info("upgrade failed, keeping current quality", "error", err)
					case m.session != s:
						stopAll(tracks)
					default:
						m.install(m.newSession(TierHigh, tracks))
					}
					m.drain()
				}
			})
		}
	})
}

// checkLiveness reacquires the whole session when a wanted, enabled track
// has ended.
func (m *Manager) checkLiveness() {
	m.livenessTimer = m.sched.AfterFunc(m.opts.LivenessInterval, m.checkLiveness)

	s := m.session
	if s == nil || m.busy {
		return
	}
	stale := false
	for _, t := range s.Tracks() {
		if m.enabled[t.Kind()] && t.ReadyState() == Ended {
			stale = true
			m.log.Warn("capture track ended", "kind", t.Kind(), "track", t.ID())
		}
	}
	if !stale {
		return
	}

	m.run(Tiers(s.Audio() != nil, s.Video() != nil, s.Tier()), func(tracks []Track, c Constraints, err error) {
		if err != nil {
			m.reportError(err)
			return
		}
		if m.session != s {
			stopAll(tracks)
			return
		}
		m.install(m.newSession(c.Tier, tracks))
	})
}

func (m *Manager) reportError(err error) {
	m.log.Error("capture failed", "error", err)
	if m.events.OnError != nil {
		m.events.OnError(err)
	}
}

func stopAll(tracks []Track) {
	for _, t := range tracks {
		t.Stop()
	}
}
