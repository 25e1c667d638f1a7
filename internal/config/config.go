package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration values (production)
const (
	DefaultDomain   = "warpcall.qzz.io"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "turn:warpcall.qzz.io"
	DefaultTURNUser = "warpcall"
	DefaultTURNPass = "warpcall-secret"

	DefaultListenAddr = ":8080"

	DefaultPendingTTL        = 60 * time.Second
	DefaultKeepalive         = 15 * time.Second
	DefaultUpgradeDelay      = 5 * time.Second
	DefaultLivenessInterval  = 10 * time.Second
	DefaultCaptureBackoff    = time.Second
	DefaultCaptureMaxAttempt = 4
)

// Config holds application configuration
type Config struct {
	// Domain is the signaling server domain
	Domain string

	// WebSocketURL is constructed from domain unless Insecure is set
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Signaling server side
	ListenAddr     string
	AllowedOrigins []string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Call core timings
	PendingTTL        time.Duration
	KeepaliveInterval time.Duration
	UpgradeDelay      time.Duration
	LivenessInterval  time.Duration
	CaptureBackoff    time.Duration
	CaptureAttempts   int
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain     string
	Insecure   bool
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	ListenAddr string
	RedisAddr  string

	// EnvFile is loaded before reading the environment. Missing files are
	// ignored; variables already set in the environment win.
	EnvFile string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (including a .env file)
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}

	domain := pick(opts.Domain, "DOMAIN", DefaultDomain)

	scheme := "wss"
	if opts.Insecure || envBool("SIGNALING_INSECURE") {
		scheme = "ws"
	}

	cfg := &Config{
		Domain:       domain,
		WebSocketURL: fmt.Sprintf("%s://%s/ws", scheme, domain),
		STUNServer:   pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:   pick(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:     pick(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:     pick(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
		ForceRelay:   opts.ForceRelay || envBool("FORCE_RELAY"),

		ListenAddr:     pick(opts.ListenAddr, "LISTEN_ADDR", DefaultListenAddr),
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		RedisAddr:      pick(opts.RedisAddr, "REDIS_ADDR", ""),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.CaptureAttempts, err = envInt("CAPTURE_MAX_ATTEMPTS", DefaultCaptureMaxAttempt); err != nil {
		return nil, err
	}

	durations := []struct {
		key    string
		target *time.Duration
		def    time.Duration
	}{
		{"PENDING_TTL", &cfg.PendingTTL, DefaultPendingTTL},
		{"KEEPALIVE_INTERVAL", &cfg.KeepaliveInterval, DefaultKeepalive},
		{"UPGRADE_DELAY", &cfg.UpgradeDelay, DefaultUpgradeDelay},
		{"LIVENESS_INTERVAL", &cfg.LivenessInterval, DefaultLivenessInterval},
		{"CAPTURE_BACKOFF", &cfg.CaptureBackoff, DefaultCaptureBackoff},
	}
	for _, d := range durations {
		if *d.target, err = envDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// GetRoomLink returns the webapp URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/r/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
