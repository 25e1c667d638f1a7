// Package peertest provides in-memory peer connections for tests.
package peertest

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/Rupam798/VideoConferencing/internal/media"
	"github.com/Rupam798/VideoConferencing/internal/peer"
)

// Sender records the tracks substituted into it.
type Sender struct {
	mu       sync.Mutex
	kind     media.Kind
	track    media.Track
	replaced int
	err      error
}

func (s *Sender) ReplaceTrack(t media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.track = t
	s.replaced++
	return nil
}

func (s *Sender) Kind() media.Kind { return s.kind }

// Track is the track currently sent.
func (s *Sender) Track() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// Replacements counts successful ReplaceTrack calls.
func (s *Sender) Replacements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}

// Conn is a scripted peer.Connection. Descriptions are opaque strings and
// callbacks fire synchronously from the Emit methods.
type Conn struct {
	PeerID string

	mu         sync.Mutex
	senders    map[media.Kind]*Sender
	remote     []webrtc.SessionDescription
	local      []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
	remoteErr  error

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(peer.RemoteTrack)
}

func (c *Conn) AddSender(kind media.Kind, t media.Track) (peer.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &Sender{kind: kind, track: t}
	c.senders[kind] = s
	return s, nil
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.describe(webrtc.SDPTypeOffer)
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.describe(webrtc.SDPTypeAnswer)
}

func (c *Conn) describe(typ webrtc.SDPType) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := webrtc.SessionDescription{Type: typ, SDP: fmt.Sprintf("%s-%s-%d", typ, c.PeerID, len(c.local)+1)}
	c.local = append(c.local, d)
	return d, nil
}

func (c *Conn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteErr != nil {
		return c.remoteErr
	}
	c.remote = append(c.remote, d)
	return nil
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *Conn) OnICECandidate(f func(webrtc.ICECandidateInit))   { c.onCandidate = f }
func (c *Conn) OnStateChange(f func(webrtc.PeerConnectionState)) { c.onState = f }
func (c *Conn) OnRemoteTrack(f func(peer.RemoteTrack))           { c.onTrack = f }

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// EmitCandidate reports a locally gathered candidate.
func (c *Conn) EmitCandidate(candidate string) {
	c.onCandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

// EmitState reports a transport state change.
func (c *Conn) EmitState(s webrtc.PeerConnectionState) {
	c.onState(s)
}

// EmitTrack reports an incoming track.
func (c *Conn) EmitTrack(t peer.RemoteTrack) {
	c.onTrack(t)
}

// Sender returns the sender of kind k.
func (c *Conn) Sender(k media.Kind) *Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senders[k]
}

// Local lists the descriptions created, in order.
func (c *Conn) Local() []webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), c.local...)
}

// Remote lists the descriptions applied, in order.
func (c *Conn) Remote() []webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), c.remote...)
}

// Candidates lists the remote candidates added, in order.
func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Factory hands out Conns and remembers them per peer.
type Factory struct {
	mu        sync.Mutex
	conns     map[string][]*Conn
	err       error
	remoteErr error
}

func NewFactory() *Factory {
	return &Factory{conns: make(map[string][]*Conn)}
}

// Fail makes every later NewConnection return err.
func (f *Factory) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// RejectDescriptions makes connections opened afterwards refuse every
// remote description with err.
func (f *Factory) RejectDescriptions(err error) {
	f.mu.Lock()
	f.remoteErr = err
	f.mu.Unlock()
}

func (f *Factory) NewConnection(peerID string) (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &Conn{PeerID: peerID, senders: make(map[media.Kind]*Sender), remoteErr: f.remoteErr}
	f.conns[peerID] = append(f.conns[peerID], c)
	return c, nil
}

// Conn returns the latest connection opened to peerID, or nil.
func (f *Factory) Conn(peerID string) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.conns[peerID]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// Conns lists every connection opened to peerID.
func (f *Factory) Conns(peerID string) []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns[peerID]...)
}

// Offers counts offers created across every connection, which is how
// tests detect renegotiation.
func (f *Factory) Offers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cs := range f.conns {
		for _, c := range cs {
			for _, d := range c.Local() {
				if d.Type == webrtc.SDPTypeOffer {
					n++
				}
			}
		}
	}
	return n
}
