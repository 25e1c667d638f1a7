package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Rupam798/VideoConferencing/internal/hub"
	"github.com/Rupam798/VideoConferencing/internal/roomid"
	"github.com/Rupam798/VideoConferencing/internal/signaling"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func startServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Logger = quiet

	h := hub.New(signaling.NewMemoryRelay(signaling.WithLogger(quiet)), quiet)
	go h.Run(ctx)

	srv := httptest.NewServer(NewRouter(h, opts))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *signaling.Client {
	t.Helper()
	c := signaling.NewClient("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func receive(t *testing.T, ch <-chan signaling.Message) signaling.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return signaling.Message{}
}

func TestRelayOverWebsocket(t *testing.T) {
	srv := startServer(t, Options{})
	room := roomid.New()

	alice := dial(t, srv)
	bob := dial(t, srv)

	aliceIn := make(chan signaling.Message, 8)
	bobIn := make(chan signaling.Message, 8)

	if _, err := alice.Join(room, "alice", func(m signaling.Message) { aliceIn <- m }); err != nil {
		t.Fatal(err)
	}
	// Addressed to bob before he joins: the server holds it for him.
	err := alice.Send(room, signaling.Message{
		Sender:   "alice",
		Receiver: "bob",
		Payload:  signaling.Announce{DisplayName: "Alice", Audio: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := bob.Join(room, "bob", func(m signaling.Message) { bobIn <- m }); err != nil {
		t.Fatal(err)
	}

	got := receive(t, bobIn)
	ann, ok := got.Payload.(signaling.Announce)
	if !ok || ann.DisplayName != "Alice" || got.Sender != "alice" {
		t.Fatalf("bob got %+v", got)
	}

	bob.Close()

	gone := receive(t, aliceIn)
	rr, ok := gone.Payload.(signaling.RemovalRequest)
	if !ok || rr.TargetID != "bob" || gone.Sender != "bob" {
		t.Fatalf("alice got %+v, want removal of bob", gone)
	}
}

func TestSendBeforeJoin(t *testing.T) {
	srv := startServer(t, Options{})
	c := dial(t, srv)
	err := c.Send("room", signaling.Message{Sender: "x", Payload: signaling.Keepalive{}})
	if err != signaling.ErrNotJoined {
		t.Fatalf("Send = %v, want ErrNotJoined", err)
	}
}

func TestHealth(t *testing.T) {
	srv := startServer(t, Options{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateRoom(t *testing.T) {
	srv := startServer(t, Options{})
	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated || !roomid.Valid(body.RoomID) {
		t.Fatalf("status %d, room %q", resp.StatusCode, body.RoomID)
	}
}

func TestOriginFilter(t *testing.T) {
	srv := startServer(t, Options{AllowedOrigins: []string{"https://call.example.com"}})

	tests := []struct {
		origin string
		want   int
	}{
		{"", http.StatusOK},
		{"https://call.example.com", http.StatusOK},
		{"https://evil.example.com", http.StatusForbidden},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("origin %q: status %d, want %d", tt.origin, resp.StatusCode, tt.want)
		}
	}
}
