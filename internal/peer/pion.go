package peer

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/config"
	"github.com/Rupam798/VideoConferencing/internal/logging"
	"github.com/Rupam798/VideoConferencing/internal/media"
)

const DefaultPLIInterval = 3 * time.Second

type PionOptions struct {
	// RegisterCodecs fills the media engine. Nil registers pion's default
	// codecs.
	RegisterCodecs func(*webrtc.MediaEngine) error

	// PLIInterval is how often a keyframe is requested from each incoming
	// video track.
	PLIInterval time.Duration

	// Loopback restricts gathering to UDP4 and includes loopback
	// candidates, for calls between processes on one host.
	Loopback bool

	Logger *slog.Logger
}

// PionFactory opens pion/webrtc peer connections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	log    *slog.Logger
}

func NewPionFactory(cfg *config.Config, opts PionOptions) (*PionFactory, error) {
	log := logging.Or(opts.Logger).With("component", "peer")
	if opts.PLIInterval <= 0 {
		opts.PLIInterval = DefaultPLIInterval
	}

	me := &webrtc.MediaEngine{}
	register := opts.RegisterCodecs
	if register == nil {
		register = (*webrtc.MediaEngine).RegisterDefaultCodecs
	}
	if err := register(me); err != nil {
		return nil, callerr.New("register codecs", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, callerr.New("register interceptors", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(opts.PLIInterval))
	if err != nil {
		return nil, callerr.New("pli interceptor", err)
	}
	registry.Add(pli)

	se := webrtc.SettingEngine{}
	se.LoggerFactory = logging.PionLoggerFactory{Logger: log}
	if opts.Loopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	return &PionFactory{api: api, config: iceConfig(cfg, log), log: log}, nil
}

func iceConfig(cfg *config.Config, log *slog.Logger) webrtc.Configuration {
	var servers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || behindTunnel()) {
		log.Info("using relay-only ICE policy")
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{ICEServers: servers, ICETransportPolicy: policy}
}

func (f *PionFactory) NewConnection(peerID string) (Connection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, callerr.NewPeerError("create peer connection", peerID, err)
	}
	return &pionConn{pc: pc, peerID: peerID, log: f.log.With("peer", peerID)}, nil
}

type pionConn struct {
	pc     *webrtc.PeerConnection
	peerID string
	log    *slog.Logger
}

func (c *pionConn) AddSender(kind media.Kind, t media.Track) (Sender, error) {
	local, err := trackLocal(t)
	if err != nil {
		return nil, callerr.NewPeerError("add sender", c.peerID, err)
	}

	init := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}
	var tr *webrtc.RTPTransceiver
	if local != nil {
		tr, err = c.pc.AddTransceiverFromTrack(local, init)
	} else {
		tr, err = c.pc.AddTransceiverFromKind(codecType(kind), init)
	}
	if err != nil {
		return nil, callerr.NewPeerError("add sender", c.peerID, err)
	}

	sender := tr.Sender()
	go c.drainRTCP(sender)
	return &pionSender{sender: sender}, nil
}

// drainRTCP reads incoming RTCP so the interceptors run. Reads stop when
// the sender is closed.
func (c *pionConn) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.log.Debug("rtcp read stopped", "error", err)
			}
			return
		}
	}
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, callerr.NewPeerError("create offer", c.peerID, err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, callerr.NewPeerError("set local description", c.peerID, err)
	}
	return offer, nil
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, callerr.NewPeerError("create answer", c.peerID, err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, callerr.NewPeerError("set local description", c.peerID, err)
	}
	return answer, nil
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return callerr.NewPeerError("set remote description", c.peerID, err)
	}
	return nil
}

func (c *pionConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	if err := c.pc.AddICECandidate(cand); err != nil {
		return callerr.NewPeerError("add ICE candidate", c.peerID, err)
	}
	return nil
}

func (c *pionConn) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		f(cand.ToJSON())
	})
}

func (c *pionConn) OnStateChange(f func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

func (c *pionConn) OnRemoteTrack(f func(RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := media.Video
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			kind = media.Audio
		}
		c.log.Debug("remote track", "kind", kind, "codec", track.Codec().MimeType)
		f(RemoteTrack{ID: track.ID(), StreamID: track.StreamID(), Kind: kind})

		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

type pionSender struct {
	sender *webrtc.RTPSender
}

func (s *pionSender) ReplaceTrack(t media.Track) error {
	local, err := trackLocal(t)
	if err != nil {
		return err
	}
	return s.sender.ReplaceTrack(local)
}

// localTrack is implemented by capture tracks that can feed a pion sender.
type localTrack interface {
	TrackLocal() webrtc.TrackLocal
}

func trackLocal(t media.Track) (webrtc.TrackLocal, error) {
	if t == nil {
		return nil, nil
	}
	l, ok := t.(localTrack)
	if !ok {
		return nil, callerr.Wrap("attach track", callerr.ErrUnsupported, "track "+t.ID()+" cannot be sent")
	}
	return l.TrackLocal(), nil
}

func codecType(k media.Kind) webrtc.RTPCodecType {
	if k == media.Audio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}
