package signaling

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

type recorder struct {
	kinds []Kind
}

func (r *recorder) HandleAnnounce(Message, Announce)       { r.kinds = append(r.kinds, KindAnnounce) }
func (r *recorder) HandleNegotiation(Message, Negotiation) { r.kinds = append(r.kinds, KindNegotiation) }
func (r *recorder) HandleAudioState(Message, AudioState)   { r.kinds = append(r.kinds, KindAudioState) }
func (r *recorder) HandleVideoState(Message, VideoState)   { r.kinds = append(r.kinds, KindVideoState) }
func (r *recorder) HandleScreenShareState(Message, ScreenShareState) {
	r.kinds = append(r.kinds, KindScreenShareState)
}
func (r *recorder) HandleNameUpdate(Message, NameUpdate) { r.kinds = append(r.kinds, KindNameUpdate) }
func (r *recorder) HandleRemovalRequest(Message, RemovalRequest) {
	r.kinds = append(r.kinds, KindRemovalRequest)
}
func (r *recorder) HandleKeepalive(Message, Keepalive) { r.kinds = append(r.kinds, KindKeepalive) }

var allPayloads = []Payload{
	Announce{DisplayName: "Ann", Audio: true, Video: true},
	Negotiation{Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}},
	AudioState{Enabled: true},
	VideoState{},
	ScreenShareState{Sharing: true},
	NameUpdate{DisplayName: "Bob"},
	RemovalRequest{TargetID: "p2"},
	Keepalive{},
}

func TestDispatchRoutesEveryKind(t *testing.T) {
	var r recorder
	for _, p := range allPayloads {
		if err := Dispatch(Message{Sender: "p1", Payload: p}, &r); err != nil {
			t.Fatalf("Dispatch(%T): %v", p, err)
		}
	}
	if len(r.kinds) != len(allPayloads) {
		t.Fatalf("dispatched %d, want %d", len(r.kinds), len(allPayloads))
	}
	for i, p := range allPayloads {
		if r.kinds[i] != p.Kind() {
			t.Errorf("payload %T went to %s", p, r.kinds[i])
		}
	}

	if err := Dispatch(Message{Sender: "p1"}, &r); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestJSONCarriesTypeString(t *testing.T) {
	msg := Message{
		Sender:    "p1",
		Payload:   Negotiation{Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}},
		CreatedAt: time.Unix(100, 0).UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"offer-answer-candidate"`) {
		t.Fatalf("wire form missing type: %s", data)
	}
	if strings.Contains(string(data), "expires_at") {
		t.Fatalf("unset expiry should be omitted: %s", data)
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	neg, ok := back.Payload.(Negotiation)
	if !ok || neg.Candidate == nil || neg.Description != nil {
		t.Fatalf("decoded payload = %#v", back.Payload)
	}
	if neg.Candidate.Candidate != msg.Payload.(Negotiation).Candidate.Candidate {
		t.Fatalf("candidate changed: %q", neg.Candidate.Candidate)
	}
}

func TestJSONRejectsUnknownType(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"type":"chat","sender":"p1","payload":{}}`), &m)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestBinaryCodecKeepsExpiry(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := Message{
		Sender:    "p1",
		Receiver:  "p2",
		Payload:   Announce{DisplayName: "Ann", Video: true, Reply: true},
		CreatedAt: created,
		ExpiresAt: created.Add(DefaultPendingTTL),
	}
	data, err := EncodeBinary(msg)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeBinary(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.Payload != msg.Payload {
		t.Errorf("payload = %#v", back.Payload)
	}
	if !back.ExpiresAt.Equal(msg.ExpiresAt) || back.Receiver != "p2" {
		t.Errorf("envelope = %+v", back)
	}
}

func TestExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	if (Message{}).Expired(now) {
		t.Error("message without expiry reported expired")
	}
	m := Message{ExpiresAt: now}
	if !m.Expired(now) {
		t.Error("message at its expiry instant should be expired")
	}
	if m.Expired(now.Add(-time.Millisecond)) {
		t.Error("message before expiry reported expired")
	}
}
