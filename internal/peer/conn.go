// Package peer manages one media connection per remote participant.
package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/Rupam798/VideoConferencing/internal/media"
)

// State is the lifecycle of a peer connection record.
type State int

const (
	Negotiating State = iota
	Connected
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Sender carries one outgoing track kind on a connection.
type Sender interface {
	// ReplaceTrack swaps the outgoing track without renegotiation. A nil
	// track leaves the sender attached but silent.
	ReplaceTrack(t media.Track) error
}

// RemoteTrack describes an incoming track.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     media.Kind
}

// Connection is the transport to one remote participant. Callbacks may run
// on any goroutine.
type Connection interface {
	AddSender(kind media.Kind, t media.Track) (Sender, error)

	// CreateOffer and CreateAnswer also apply the result as the local
	// description.
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)

	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(webrtc.PeerConnectionState))
	OnRemoteTrack(func(RemoteTrack))

	Close() error
}

// Factory opens connections.
type Factory interface {
	NewConnection(peerID string) (Connection, error)
}

// RemoteStream is the media received from one participant.
type RemoteStream struct {
	peerID string
	id     string
	kinds  map[media.Kind]string
}

func newRemoteStream(peerID, streamID string) *RemoteStream {
	return &RemoteStream{peerID: peerID, id: streamID, kinds: map[media.Kind]string{}}
}

func (s *RemoteStream) StreamID() string { return s.id }
func (s *RemoteStream) PeerID() string   { return s.peerID }

// Has reports whether a track of kind k has arrived.
func (s *RemoteStream) Has(k media.Kind) bool {
	_, ok := s.kinds[k]
	return ok
}

// TrackID returns the id of the incoming track of kind k.
func (s *RemoteStream) TrackID(k media.Kind) string { return s.kinds[k] }

func (s *RemoteStream) with(t RemoteTrack) *RemoteStream {
	next := newRemoteStream(s.peerID, s.id)
	for k, v := range s.kinds {
		next.kinds[k] = v
	}
	next.kinds[t.Kind] = t.ID
	return next
}
