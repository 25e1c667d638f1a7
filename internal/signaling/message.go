package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// Kind is the wire name of a payload type.
type Kind string

// Payload kinds carried between room members.
const (
	KindAnnounce         Kind = "announce"
	KindNegotiation      Kind = "offer-answer-candidate"
	KindAudioState       Kind = "audio-state"
	KindVideoState       Kind = "video-state"
	KindScreenShareState Kind = "screen-share-state"
	KindNameUpdate       Kind = "name-update"
	KindRemovalRequest   Kind = "removal-request"
	KindKeepalive        Kind = "keepalive"
)

// Payload is implemented only by the payload types in this package.
type Payload interface {
	Kind() Kind
	dispatch(Message, Handler)
}

// Message is one signal between room members. An empty Receiver means
// broadcast to everyone in the room except the sender.
type Message struct {
	Sender    string
	Receiver  string
	Payload   Payload
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Broadcast reports whether the message has no specific receiver.
func (m Message) Broadcast() bool { return m.Receiver == "" }

// Expired reports whether an addressed message outlived its delivery window.
func (m Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

// Announce introduces a participant and its media state. Reply is set on
// the directed answer to somebody else's announce so it is not answered
// again.
type Announce struct {
	DisplayName   string `json:"display_name" msgpack:"display_name"`
	Audio         bool   `json:"audio" msgpack:"audio"`
	Video         bool   `json:"video" msgpack:"video"`
	ScreenSharing bool   `json:"screen_sharing" msgpack:"screen_sharing"`
	Reply         bool   `json:"reply,omitempty" msgpack:"reply,omitempty"`
}

// Negotiation carries either a session description or one ICE candidate.
type Negotiation struct {
	Description *webrtc.SessionDescription `json:"description,omitempty" msgpack:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
}

type AudioState struct {
	Enabled bool `json:"enabled" msgpack:"enabled"`
}

type VideoState struct {
	Enabled bool `json:"enabled" msgpack:"enabled"`
}

type ScreenShareState struct {
	Sharing bool `json:"sharing" msgpack:"sharing"`
}

type NameUpdate struct {
	DisplayName string `json:"display_name" msgpack:"display_name"`
}

// RemovalRequest asks every member to drop TargetID. A participant that
// leaves abruptly is announced this way with itself as target.
type RemovalRequest struct {
	TargetID string `json:"target_id" msgpack:"target_id"`
}

type Keepalive struct{}

func (Announce) Kind() Kind         { return KindAnnounce }
func (Negotiation) Kind() Kind      { return KindNegotiation }
func (AudioState) Kind() Kind       { return KindAudioState }
func (VideoState) Kind() Kind       { return KindVideoState }
func (ScreenShareState) Kind() Kind { return KindScreenShareState }
func (NameUpdate) Kind() Kind       { return KindNameUpdate }
func (RemovalRequest) Kind() Kind   { return KindRemovalRequest }
func (Keepalive) Kind() Kind        { return KindKeepalive }

// Handler receives decoded messages, one method per payload kind.
type Handler interface {
	HandleAnnounce(Message, Announce)
	HandleNegotiation(Message, Negotiation)
	HandleAudioState(Message, AudioState)
	HandleVideoState(Message, VideoState)
	HandleScreenShareState(Message, ScreenShareState)
	HandleNameUpdate(Message, NameUpdate)
	HandleRemovalRequest(Message, RemovalRequest)
	HandleKeepalive(Message, Keepalive)
}

func (p Announce) dispatch(m Message, h Handler)         { h.HandleAnnounce(m, p) }
func (p Negotiation) dispatch(m Message, h Handler)      { h.HandleNegotiation(m, p) }
func (p AudioState) dispatch(m Message, h Handler)       { h.HandleAudioState(m, p) }
func (p VideoState) dispatch(m Message, h Handler)       { h.HandleVideoState(m, p) }
func (p ScreenShareState) dispatch(m Message, h Handler) { h.HandleScreenShareState(m, p) }
func (p NameUpdate) dispatch(m Message, h Handler)       { h.HandleNameUpdate(m, p) }
func (p RemovalRequest) dispatch(m Message, h Handler)   { h.HandleRemovalRequest(m, p) }
func (p Keepalive) dispatch(m Message, h Handler)        { h.HandleKeepalive(m, p) }

// Dispatch routes msg to the handler method for its payload kind.
func Dispatch(msg Message, h Handler) error {
	if msg.Payload == nil {
		return fmt.Errorf("message from %q has no payload", msg.Sender)
	}
	msg.Payload.dispatch(msg, h)
	return nil
}

func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindAnnounce:
		return &Announce{}, nil
	case KindNegotiation:
		return &Negotiation{}, nil
	case KindAudioState:
		return &AudioState{}, nil
	case KindVideoState:
		return &VideoState{}, nil
	case KindScreenShareState:
		return &ScreenShareState{}, nil
	case KindNameUpdate:
		return &NameUpdate{}, nil
	case KindRemovalRequest:
		return &RemovalRequest{}, nil
	case KindKeepalive:
		return &Keepalive{}, nil
	}
	return nil, fmt.Errorf("unknown message type %q", k)
}

// deref turns the pointer built by newPayload back into the value type the
// handlers receive.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Announce:
		return *v
	case *Negotiation:
		return *v
	case *AudioState:
		return *v
	case *VideoState:
		return *v
	case *ScreenShareState:
		return *v
	case *NameUpdate:
		return *v
	case *RemovalRequest:
		return *v
	case *Keepalive:
		return *v
	}
	return p
}

// wireMessage is the JSON form of Message.
type wireMessage struct {
	Type      Kind            `json:"type"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("message from %q has no payload", m.Sender)
	}
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, err
	}
	w := wireMessage{
		Type:      m.Payload.Kind(),
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Payload:   payload,
		CreatedAt: m.CreatedAt,
	}
	if !m.ExpiresAt.IsZero() {
		w.ExpiresAt = &m.ExpiresAt
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := newPayload(w.Type)
	if err != nil {
		return err
	}
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.Type, err)
		}
	}
	*m = Message{
		Sender:    w.Sender,
		Receiver:  w.Receiver,
		Payload:   deref(p),
		CreatedAt: w.CreatedAt,
	}
	if w.ExpiresAt != nil {
		m.ExpiresAt = *w.ExpiresAt
	}
	return nil
}
