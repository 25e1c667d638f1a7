package peer

import (
	"log/slog"
	"net"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/Rupam798/VideoConferencing/internal/config"
)

func TestTunnelName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"wg0", true},
		{"tun0", true},
		{"utun3", true},
		{"CloudflareWARP", false},
		{"warp0", true},
		{"tailscale0", true},
		{"eth0", false},
		{"wlan0", false},
		{"enp3s0", false},
	}
	for _, tt := range tests {
		if got := tunnelName(tt.name); got != tt.want {
			t.Errorf("tunnelName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInCGNAT(t *testing.T) {
	tests := []struct {
		addr net.Addr
		want bool
	}{
		{&net.IPNet{IP: net.ParseIP("100.64.0.1"), Mask: net.CIDRMask(10, 32)}, true},
		{&net.IPNet{IP: net.ParseIP("100.127.255.254"), Mask: net.CIDRMask(10, 32)}, true},
		{&net.IPAddr{IP: net.ParseIP("100.128.0.1")}, false},
		{&net.IPNet{IP: net.ParseIP("192.168.1.10"), Mask: net.CIDRMask(24, 32)}, false},
		{&net.UnixAddr{Name: "/tmp/sock"}, false},
	}
	for _, tt := range tests {
		if got := inCGNAT(tt.addr); got != tt.want {
			t.Errorf("inCGNAT(%v) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestICEConfigRelayPolicy(t *testing.T) {
	cfg := iceConfigFor(t, "", false)
	if cfg.ICETransportPolicy.String() != "all" || len(cfg.ICEServers) != 1 {
		t.Fatalf("stun only: %+v", cfg)
	}

	cfg = iceConfigFor(t, "turn:relay.example", true)
	if cfg.ICETransportPolicy.String() != "relay" {
		t.Fatalf("forced relay policy = %s", cfg.ICETransportPolicy)
	}
	if len(cfg.ICEServers) != 2 || cfg.ICEServers[1].Username != "u" {
		t.Fatalf("turn servers = %+v", cfg.ICEServers)
	}
}

func iceConfigFor(t *testing.T, turn string, force bool) webrtc.Configuration {
	t.Helper()
	return iceConfig(&config.Config{
		STUNServer: "stun:stun.example:3478",
		TURNServer: turn,
		TURNUser:   "u",
		TURNPass:   "p",
		ForceRelay: force,
	}, slog.New(slog.DiscardHandler))
}
