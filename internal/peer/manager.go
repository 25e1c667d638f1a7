package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pion/webrtc/v4"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/logging"
	"github.com/Rupam798/VideoConferencing/internal/loop"
	"github.com/Rupam798/VideoConferencing/internal/media"
	"github.com/Rupam798/VideoConferencing/internal/signaling"
)

// maxEarlyCandidates bounds candidates held for a peer we have no record
// for yet.
const maxEarlyCandidates = 64

var kinds = []media.Kind{media.Audio, media.Video}

// Events are invoked on the loop. Every field is optional.
type Events struct {
	// Signal sends a negotiation payload to peerID.
	Signal func(peerID string, n signaling.Negotiation)

	OnState func(peerID string, s State)

	// OnRemoteStream runs whenever a peer's incoming stream gains a track.
	OnRemoteStream func(*RemoteStream)

	// OnClosed runs once when a record is removed. err is nil for a clean
	// close and wraps callerr.ErrNegotiationFailed otherwise.
	OnClosed func(peerID string, err error)
}

type record struct {
	id       string
	conn     Connection
	state    State
	senders  map[media.Kind]Sender
	attached map[media.Kind]media.Track
	pending  []webrtc.ICECandidateInit
	offering bool
	remote   bool
	stream   *RemoteStream
}

// Manager owns the connection to every remote participant. It is confined
// to the scheduler's loop: call it only from there.
type Manager struct {
	sched   loop.Scheduler
	factory Factory
	self    string
	log     *slog.Logger
	events  Events

	local    *media.CaptureSession
	override media.Track
	peers    map[string]*record
	early    map[string][]webrtc.ICECandidateInit
	closed   bool
}

func NewManager(sched loop.Scheduler, factory Factory, selfID string, log *slog.Logger, events Events) *Manager {
	return &Manager{
		sched:   sched,
		factory: factory,
		self:    selfID,
		log:     logging.Or(log).With("component", "peers"),
		events:  events,
		peers:   make(map[string]*record),
		early:   make(map[string][]webrtc.ICECandidateInit),
	}
}

// Connect opens a connection to peerID and sends it an offer. It does
// nothing if a record already exists.
func (m *Manager) Connect(peerID string) error {
	if m.closed {
		return callerr.NewPeerError("connect", peerID, callerr.ErrSessionClosed)
	}
	if peerID == m.self || m.peers[peerID] != nil {
		return nil
	}

	rec, err := m.open(peerID)
	if err != nil {
		m.notifyClosed(peerID, err)
		return err
	}

	offer, err := rec.conn.CreateOffer()
	if err != nil {
		m.fail(rec, err)
		return err
	}
	rec.offering = true
	m.log.Debug("sending offer", "peer", peerID)
	m.signal(peerID, signaling.Negotiation{Description: &offer})
	return nil
}

// HandleNegotiation applies a payload received from peerID.
func (m *Manager) HandleNegotiation(peerID string, n signaling.Negotiation) {
	if m.closed || peerID == m.self {
		return
	}
	if n.Description != nil {
		m.description(peerID, *n.Description)
	}
	if n.Candidate != nil {
		m.candidate(peerID, *n.Candidate)
	}
}

func (m *Manager) description(peerID string, desc webrtc.SessionDescription) {
	rec := m.peers[peerID]

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		var carried []webrtc.ICECandidateInit
		if rec != nil && rec.offering {
			// Both sides offered. The lower id keeps its offer.
			if m.self < peerID {
				m.log.Debug("ignoring competing offer", "peer", peerID)
				return
			}
			m.log.Debug("yielding to competing offer", "peer", peerID)
			carried = rec.pending
			m.discard(rec)
			rec = nil
		}
		if rec == nil {
			var err error
			if rec, err = m.open(peerID); err != nil {
				m.notifyClosed(peerID, err)
				return
			}
			rec.pending = append(carried, rec.pending...)
		}
		if err := rec.conn.SetRemoteDescription(desc); err != nil {
			m.fail(rec, err)
			return
		}
		rec.remote = true
		m.flush(rec)

		answer, err := rec.conn.CreateAnswer()
		if err != nil {
			m.fail(rec, err)
			return
		}
		m.log.Debug("sending answer", "peer", peerID)
		m.signal(peerID, signaling.Negotiation{Description: &answer})

	case webrtc.SDPTypeAnswer:
		if rec == nil || !rec.offering {
			m.log.Debug("unexpected answer", "peer", peerID)
			return
		}
		if err := rec.conn.SetRemoteDescription(desc); err != nil {
			m.fail(rec, err)
			return
		}
		rec.offering = false
		rec.remote = true
		m.flush(rec)

	default:
		m.log.Debug("ignoring description", "peer", peerID, "type", desc.Type.String())
	}
}

func (m *Manager) candidate(peerID string, c webrtc.ICECandidateInit) {
	rec := m.peers[peerID]
	if rec == nil {
		if len(m.early[peerID]) < maxEarlyCandidates {
			m.early[peerID] = append(m.early[peerID], c)
		}
		return
	}
	if !rec.remote {
		rec.pending = append(rec.pending, c)
		return
	}
	m.addCandidate(rec, c)
}

func (m *Manager) flush(rec *record) {
	pending := rec.pending
	rec.pending = nil
	for _, c := range pending {
		m.addCandidate(rec, c)
	}
}

func (m *Manager) addCandidate(rec *record, c webrtc.ICECandidateInit) {
	if err := rec.conn.AddICECandidate(c); err != nil {
		m.log.Warn("dropping ICE candidate", "peer", rec.id, "error", err)
	}
}

func (m *Manager) open(peerID string) (*record, error) {
	conn, err := m.factory.NewConnection(peerID)
	if err != nil {
		return nil, negotiationError(peerID, err)
	}

	rec := &record{
		id:       peerID,
		conn:     conn,
		state:    Negotiating,
		senders:  make(map[media.Kind]Sender, len(kinds)),
		attached: make(map[media.Kind]media.Track, len(kinds)),
		pending:  m.early[peerID],
	}
	delete(m.early, peerID)

	// Both senders exist from the start so later changes are substitutions.
	for _, kind := range kinds {
		t := m.outgoing(kind)
		s, err := conn.AddSender(kind, t)
		if err != nil {
			conn.Close()
			return nil, negotiationError(peerID, err)
		}
		rec.senders[kind] = s
		rec.attached[kind] = t
	}

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.sched.Post(func() {
			if m.peers[peerID] == rec {
				m.signal(peerID, signaling.Negotiation{Candidate: &c})
			}
		})
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		m.sched.Post(func() { m.transport(rec, s) })
	})
	conn.OnRemoteTrack(func(t RemoteTrack) {
		m.sched.Post(func() { m.remoteTrack(rec, t) })
	})

	m.peers[peerID] = rec
	m.emitState(rec)
	return rec, nil
}

func (m *Manager) transport(rec *record, s webrtc.PeerConnectionState) {
	if m.peers[rec.id] != rec {
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if rec.state != Connected {
			rec.state = Connected
			m.log.Info("peer connected", "peer", rec.id)
			m.emitState(rec)
		}
	case webrtc.PeerConnectionStateFailed:
		m.fail(rec, &callerr.Error{Op: "connect", Peer: rec.id, Err: callerr.ErrNegotiationFailed, Details: "transport failed"})
	case webrtc.PeerConnectionStateClosed:
		m.Close(rec.id)
	}
}

func (m *Manager) remoteTrack(rec *record, t RemoteTrack) {
	if m.peers[rec.id] != rec {
		return
	}
	if rec.stream == nil {
		rec.stream = newRemoteStream(rec.id, t.StreamID)
	}
	rec.stream = rec.stream.with(t)
	if m.events.OnRemoteStream != nil {
		m.events.OnRemoteStream(rec.stream)
	}
}

// ReplaceLocal substitutes the tracks of s on every connection. Kinds
// whose track is unchanged are left alone.
func (m *Manager) ReplaceLocal(s *media.CaptureSession) {
	m.local = s
	m.attachAll()
}

// SetVideoOverride sends t instead of the camera on every connection.
func (m *Manager) SetVideoOverride(t media.Track) {
	m.override = t
	m.attachAll()
}

// ClearVideoOverride goes back to sending the camera.
func (m *Manager) ClearVideoOverride() {
	m.override = nil
	m.attachAll()
}

func (m *Manager) outgoing(kind media.Kind) media.Track {
	if kind == media.Video && m.override != nil {
		return m.override
	}
	return m.local.Track(kind)
}

func (m *Manager) attachAll() {
	for _, id := range m.Peers() {
		m.attach(m.peers[id])
	}
}

func (m *Manager) attach(rec *record) {
	for _, kind := range kinds {
		want := m.outgoing(kind)
		if rec.attached[kind] == want {
			continue
		}
		if err := rec.senders[kind].ReplaceTrack(want); err != nil {
			m.log.Warn("replace track failed", "peer", rec.id, "kind", kind, "error", err)
			continue
		}
		rec.attached[kind] = want
	}
}

// Close tears down the connection to peerID. Closing an unknown peer is a
// no-op.
func (m *Manager) Close(peerID string) {
	delete(m.early, peerID)
	rec := m.peers[peerID]
	if rec == nil {
		return
	}
	delete(m.peers, peerID)
	rec.state = Closed
	m.closeConn(rec)
	m.log.Info("peer closed", "peer", peerID)
	m.emitState(rec)
	m.notifyClosed(peerID, nil)
}

// CloseAll closes every connection. The manager accepts no new peers
// afterwards.
func (m *Manager) CloseAll() {
	for _, id := range m.Peers() {
		m.Close(id)
	}
	m.early = make(map[string][]webrtc.ICECandidateInit)
	m.closed = true
}

func (m *Manager) fail(rec *record, err error) {
	if m.peers[rec.id] != rec {
		return
	}
	delete(m.peers, rec.id)
	rec.state = Failed
	m.closeConn(rec)

	err = negotiationError(rec.id, err)
	m.log.Warn("peer failed", "peer", rec.id, "error", err)
	m.emitState(rec)
	m.notifyClosed(rec.id, err)
}

func negotiationError(peerID string, err error) error {
	if errors.Is(err, callerr.ErrNegotiationFailed) {
		return err
	}
	return callerr.NewPeerError("negotiate", peerID, fmt.Errorf("%w: %w", callerr.ErrNegotiationFailed, err))
}

// discard drops a record without notifying anyone.
func (m *Manager) discard(rec *record) {
	delete(m.peers, rec.id)
	m.closeConn(rec)
}

func (m *Manager) closeConn(rec *record) {
	if err := rec.conn.Close(); err != nil {
		m.log.Debug("close connection", "peer", rec.id, "error", err)
	}
}

func (m *Manager) signal(peerID string, n signaling.Negotiation) {
	if m.events.Signal != nil {
		m.events.Signal(peerID, n)
	}
}

func (m *Manager) emitState(rec *record) {
	if m.events.OnState != nil {
		m.events.OnState(rec.id, rec.state)
	}
}

func (m *Manager) notifyClosed(peerID string, err error) {
	if m.events.OnClosed != nil {
		m.events.OnClosed(peerID, err)
	}
}

// State reports the state of the record for peerID.
func (m *Manager) State(peerID string) (State, bool) {
	rec := m.peers[peerID]
	if rec == nil {
		return Closed, false
	}
	return rec.state, true
}

// Stream returns the incoming stream of peerID, or nil before any track
// has arrived.
func (m *Manager) Stream(peerID string) *RemoteStream {
	if rec := m.peers[peerID]; rec != nil {
		return rec.stream
	}
	return nil
}

// Peers lists the ids with an open record, sorted.
func (m *Manager) Peers() []string {
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
