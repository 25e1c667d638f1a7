// Package session runs one participant's side of a call: capture, peer
// connections, signaling and the participant list, all on one loop.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/logging"
	"github.com/Rupam798/VideoConferencing/internal/loop"
	"github.com/Rupam798/VideoConferencing/internal/media"
	"github.com/Rupam798/VideoConferencing/internal/peer"
	"github.com/Rupam798/VideoConferencing/internal/room"
	"github.com/Rupam798/VideoConferencing/internal/screenshare"
	"github.com/Rupam798/VideoConferencing/internal/signaling"
)

const (
	DefaultKeepalive = 15 * time.Second

	// silentIntervals is how many keepalive periods a participant without a
	// connection may stay quiet before it is dropped.
	silentIntervals = 3
)

type Config struct {
	RoomID      string
	DisplayName string
	Audio       bool
	Video       bool

	// ParticipantID defaults to a random UUID.
	ParticipantID string

	KeepaliveInterval time.Duration
	Media             media.Options
}

type Deps struct {
	Loop    loop.Runner
	Relay   signaling.Relay
	Capture media.Provider
	Display screenshare.Provider
	Peers   peer.Factory
	Logger  *slog.Logger

	// OnError receives failures worth showing to the user. It runs on the
	// loop and must not block.
	OnError func(error)
}

// Summary describes a finished or running call.
type Summary struct {
	RoomID      string
	Participant string
	Started     time.Time
	Duration    time.Duration
	PeersSeen   int
	Failures    int
	Removed     bool
}

// Session is safe for use from any goroutine except the loop itself.
type Session struct {
	cfg     Config
	id      string
	loop    loop.Runner
	relay   signaling.Relay
	log     *slog.Logger
	onError func(error)

	registry *room.Registry
	media    *media.Manager
	peers    *peer.Manager
	share    *screenshare.Controller

	unjoin    func()
	keepalive loop.Timer
	lastSeen  map[string]time.Time
	seen      map[string]bool
	failures  int
	started   time.Time
	ended     time.Time
	removed   bool
	left      bool
	done      chan struct{}
}

func New(cfg Config, deps Deps) *Session {
	if cfg.ParticipantID == "" {
		cfg.ParticipantID = uuid.NewString()
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepalive
	}
	log := logging.Or(deps.Logger).With("room", cfg.RoomID, "self", cfg.ParticipantID)
	if cfg.Media.Logger == nil {
		cfg.Media.Logger = log
	}

	s := &Session{
		cfg:      cfg,
		id:       cfg.ParticipantID,
		loop:     deps.Loop,
		relay:    deps.Relay,
		log:      log,
		onError:  deps.OnError,
		registry: room.NewRegistry(),
		lastSeen: make(map[string]time.Time),
		seen:     make(map[string]bool),
		done:     make(chan struct{}),
	}

	s.peers = peer.NewManager(deps.Loop, deps.Peers, s.id, log, peer.Events{
		Signal:         s.signal,
		OnState:        s.peerState,
		OnRemoteStream: s.remoteStream,
		OnClosed:       s.peerClosed,
	})
	s.media = media.NewManager(deps.Loop, deps.Capture, cfg.Media, media.Events{
		OnSession:    s.captureChanged,
		OnTrackState: func(media.Kind, bool) { s.syncLocal() },
		OnError:      s.report,
	})
	s.share = screenshare.NewController(deps.Loop, deps.Display, s.peers, s.media, log, screenshare.Events{
		OnChange: s.sharingChanged,
		OnError:  s.report,
	})
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) RoomID() string { return s.cfg.RoomID }

// Done is closed once the session has left the room, whether by Leave or
// because another participant removed it.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start acquires local capture, joins the room and announces this
// participant. If capture fails nothing is joined and the error is
// returned.
func (s *Session) Start(ctx context.Context) error {
	result := make(chan error, 1)
	if err := s.loop.Do(ctx, func() { s.start(func(err error) { result <- err }) }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) start(done func(error)) {
	if s.left {
		done(callerr.New("start", callerr.ErrSessionClosed))
		return
	}
	s.media.Initialize(s.cfg.Audio, s.cfg.Video, func(cs *media.CaptureSession, err error) {
		if err != nil {
			done(err)
			return
		}
		if s.left {
			done(callerr.New("start", callerr.ErrSessionClosed))
			return
		}

		unjoin, err := s.relay.Join(s.cfg.RoomID, s.id, s.deliver)
		if err != nil {
			done(callerr.New("join room", err))
			return
		}
		s.unjoin = unjoin
		s.started = s.loop.Now()
		s.log.Info("joined room", "audio", cs.Audio() != nil, "video", cs.Video() != nil)

		s.broadcast(s.announcement(false))
		s.keepalive = s.loop.AfterFunc(s.cfg.KeepaliveInterval, s.tick)
		done(nil)
	})
}

// deliver runs on whatever goroutine the relay delivers on.
func (s *Session) deliver(msg signaling.Message) {
	s.loop.Post(func() {
		if s.left || msg.Sender == s.id {
			return
		}
		if err := signaling.Dispatch(msg, s); err != nil {
			s.log.Warn("dropping message", "sender", msg.Sender, "error", err)
		}
	})
}

func (s *Session) send(receiver string, p signaling.Payload) {
	if s.unjoin == nil {
		return
	}
	msg := signaling.Message{Sender: s.id, Receiver: receiver, Payload: p}
	if err := s.relay.Send(s.cfg.RoomID, msg); err != nil {
		s.log.Warn("send failed", "type", p.Kind(), "receiver", receiver, "error", err)
	}
}

func (s *Session) broadcast(p signaling.Payload) { s.send("", p) }

func (s *Session) announcement(reply bool) signaling.Announce {
	local, _ := s.registry.Local()
	return signaling.Announce{
		DisplayName:   local.DisplayName,
		Audio:         local.AudioEnabled,
		Video:         local.VideoEnabled,
		ScreenSharing: local.IsScreenSharing,
		Reply:         reply,
	}
}

func (s *Session) signal(peerID string, n signaling.Negotiation) {
	s.send(peerID, n)
}

func (s *Session) peerState(peerID string, st peer.State) {
	s.log.Debug("peer state", "peer", peerID, "state", st.String())
}

func (s *Session) remoteStream(rs *peer.RemoteStream) {
	s.seen[rs.PeerID()] = true
	s.registry.UpsertRemote(rs.PeerID(), func(p *room.Participant) { p.Stream = rs })
}

func (s *Session) peerClosed(peerID string, err error) {
	if err != nil {
		s.failures++
		s.log.Warn("peer dropped", "peer", peerID, "error", err)
	}
	delete(s.lastSeen, peerID)
	s.registry.Remove(peerID)
}

func (s *Session) captureChanged(next, _ *media.CaptureSession) {
	s.peers.ReplaceLocal(next)
	s.syncLocal()
}

// syncLocal mirrors the capture state into the local entry and tells the
// room about flag changes.
func (s *Session) syncLocal() {
	cs := s.media.Session()
	audio, video := s.media.Enabled(media.Audio), s.media.Enabled(media.Video)

	prev, ok := s.registry.Local()
	if !ok {
		s.registry.SetLocal(room.Participant{
			ID:           s.id,
			DisplayName:  s.cfg.DisplayName,
			AudioEnabled: audio,
			VideoEnabled: video,
			Stream:       cs,
		})
		return
	}

	s.registry.Update(s.id, func(p *room.Participant) {
		p.AudioEnabled = audio
		p.VideoEnabled = video
		p.Stream = cs
	})
	if prev.AudioEnabled != audio {
		s.broadcast(signaling.AudioState{Enabled: audio})
	}
	if prev.VideoEnabled != video {
		s.broadcast(signaling.VideoState{Enabled: video})
	}
}

func (s *Session) sharingChanged(sharing bool) {
	s.registry.Update(s.id, func(p *room.Participant) { p.IsScreenSharing = sharing })
	s.broadcast(signaling.ScreenShareState{Sharing: sharing})
}

func (s *Session) report(err error) {
	if !callerr.UserVisible(err) {
		s.log.Debug("recoverable error", "error", err)
		return
	}
	s.log.Error("call error", "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// tick broadcasts a keepalive and drops participants that have no
// connection and went quiet.
func (s *Session) tick() {
	if s.left {
		return
	}
	s.broadcast(signaling.Keepalive{})

	now := s.loop.Now()
	limit := silentIntervals * s.cfg.KeepaliveInterval
	for _, p := range s.registry.Participants() {
		if p.IsLocal {
			continue
		}
		if _, ok := s.peers.State(p.ID); ok {
			continue
		}
		if last, ok := s.lastSeen[p.ID]; ok && now.Sub(last) < limit {
			continue
		}
		s.log.Info("dropping silent participant", "peer", p.ID)
		delete(s.lastSeen, p.ID)
		s.registry.Remove(p.ID)
	}
	s.keepalive = s.loop.AfterFunc(s.cfg.KeepaliveInterval, s.tick)
}

func (s *Session) touch(id string) {
	s.lastSeen[id] = s.loop.Now()
	s.seen[id] = true
}

// Participants returns the current list, local first.
func (s *Session) Participants(ctx context.Context) ([]room.Participant, error) {
	var out []room.Participant
	err := s.loop.Do(ctx, func() { out = s.registry.Participants() })
	return out, err
}

// Subscribe calls f with the participant list now and after every change.
// f runs on the loop and must not block or call back into the session.
func (s *Session) Subscribe(f func([]room.Participant)) (unsubscribe func()) {
	var cancel func()
	s.loop.Do(context.Background(), func() {
		cancel = s.registry.Subscribe(f)
		f(s.registry.Participants())
	})
	return func() {
		s.loop.Post(func() {
			if cancel != nil {
				cancel()
			}
		})
	}
}

func (s *Session) ToggleAudio(ctx context.Context) (bool, error) {
	return s.toggle(ctx, media.Audio)
}

func (s *Session) ToggleVideo(ctx context.Context) (bool, error) {
	return s.toggle(ctx, media.Video)
}

type toggleResult struct {
	enabled bool
	err     error
}

func (s *Session) toggle(ctx context.Context, kind media.Kind) (bool, error) {
	result := make(chan toggleResult, 1)
	err := s.loop.Do(ctx, func() {
		s.media.Toggle(kind, func(enabled bool, err error) {
			if err != nil {
				s.report(err)
			}
			result <- toggleResult{enabled, err}
		})
	})
	if err != nil {
		return false, err
	}
	select {
	case r := <-result:
		return r.enabled, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Session) StartScreenShare(ctx context.Context) error {
	result := make(chan error, 1)
	err := s.loop.Do(ctx, func() {
		s.share.Start(ctx, func(err error) { result <- err })
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) StopScreenShare(ctx context.Context) error {
	return s.loop.Do(ctx, s.share.Stop)
}

// SetDisplayName renames the local participant for everyone.
func (s *Session) SetDisplayName(ctx context.Context, name string) error {
	return s.loop.Do(ctx, func() {
		s.cfg.DisplayName = name
		if s.registry.Update(s.id, func(p *room.Participant) { p.DisplayName = name }) {
			s.broadcast(signaling.NameUpdate{DisplayName: name})
		}
	})
}

// RemoveParticipant asks everyone, the target included, to drop id.
// Removing yourself is the same as Leave.
func (s *Session) RemoveParticipant(ctx context.Context, id string) error {
	if id == s.id {
		return s.Leave(ctx)
	}
	return s.loop.Do(ctx, func() {
		if s.left {
			return
		}
		s.broadcast(signaling.RemovalRequest{TargetID: id})
		s.drop(id)
	})
}

func (s *Session) drop(id string) {
	s.peers.Close(id)
	delete(s.lastSeen, id)
	s.registry.Remove(id)
}

// Leave stops every track, timer and connection and leaves the room.
// Calling it again does nothing.
func (s *Session) Leave(ctx context.Context) error {
	err := s.loop.Do(ctx, func() { s.shutdown(false) })
	if errors.Is(err, loop.ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) shutdown(removed bool) {
	if s.left {
		return
	}
	if s.unjoin != nil && !removed {
		s.broadcast(signaling.RemovalRequest{TargetID: s.id})
	}
	s.left = true
	s.removed = removed
	s.ended = s.loop.Now()

	if s.keepalive != nil {
		s.keepalive.Stop()
		s.keepalive = nil
	}
	s.share.Close()
	s.peers.CloseAll()
	s.media.Close()
	if s.unjoin != nil {
		s.unjoin()
		s.unjoin = nil
	}
	s.registry.Clear()
	s.log.Info("left room", "removed", removed)
	close(s.done)
}

// Summary reports call statistics so far.
func (s *Session) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.loop.Do(ctx, func() { sum = s.summary() })
	return sum, err
}

func (s *Session) summary() Summary {
	sum := Summary{
		RoomID:      s.cfg.RoomID,
		Participant: s.id,
		Started:     s.started,
		PeersSeen:   len(s.seen),
		Failures:    s.failures,
		Removed:     s.removed,
	}
	if !s.started.IsZero() {
		end := s.ended
		if end.IsZero() {
			end = s.loop.Now()
		}
		sum.Duration = end.Sub(s.started)
	}
	return sum
}
