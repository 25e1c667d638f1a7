package session

import (
	"github.com/Rupam798/VideoConferencing/internal/room"
	"github.com/Rupam798/VideoConferencing/internal/signaling"
)

var _ signaling.Handler = (*Session)(nil)

// HandleAnnounce records the sender. A first announcement comes from a
// newcomer: we open the connection to it and reply with our own state so
// it learns about us before media flows.
func (s *Session) HandleAnnounce(msg signaling.Message, a signaling.Announce) {
	s.touch(msg.Sender)
	s.registry.UpsertRemote(msg.Sender, func(p *room.Participant) {
		p.DisplayName = a.DisplayName
		p.AudioEnabled = a.Audio
		p.VideoEnabled = a.Video
		p.IsScreenSharing = a.ScreenSharing
	})
	if a.Reply {
		return
	}

	s.log.Info("participant announced", "peer", msg.Sender, "name", a.DisplayName)
	if err := s.peers.Connect(msg.Sender); err != nil {
		s.log.Warn("connect failed", "peer", msg.Sender, "error", err)
	}
	s.send(msg.Sender, s.announcement(true))
}

func (s *Session) HandleNegotiation(msg signaling.Message, n signaling.Negotiation) {
	s.touch(msg.Sender)
	s.peers.HandleNegotiation(msg.Sender, n)
}

func (s *Session) HandleAudioState(msg signaling.Message, st signaling.AudioState) {
	s.remoteUpdate(msg, func(p *room.Participant) { p.AudioEnabled = st.Enabled })
}

func (s *Session) HandleVideoState(msg signaling.Message, st signaling.VideoState) {
	s.remoteUpdate(msg, func(p *room.Participant) { p.VideoEnabled = st.Enabled })
}

func (s *Session) HandleScreenShareState(msg signaling.Message, st signaling.ScreenShareState) {
	s.remoteUpdate(msg, func(p *room.Participant) { p.IsScreenSharing = st.Sharing })
}

func (s *Session) HandleNameUpdate(msg signaling.Message, n signaling.NameUpdate) {
	s.remoteUpdate(msg, func(p *room.Participant) { p.DisplayName = n.DisplayName })
}

func (s *Session) remoteUpdate(msg signaling.Message, f func(*room.Participant)) {
	s.touch(msg.Sender)
	s.registry.UpsertRemote(msg.Sender, f)
}

// HandleRemovalRequest drops the target. When the target is us, we leave.
func (s *Session) HandleRemovalRequest(msg signaling.Message, r signaling.RemovalRequest) {
	if r.TargetID == s.id {
		s.log.Info("removed from room", "by", msg.Sender)
		s.shutdown(true)
		return
	}
	s.log.Info("participant removed", "peer", r.TargetID, "by", msg.Sender)
	s.drop(r.TargetID)
}

// HandleKeepalive refreshes only senders we hold a connection to, so an
// entry left behind by a failed peer still ages out.
func (s *Session) HandleKeepalive(msg signaling.Message, _ signaling.Keepalive) {
	if _, ok := s.peers.State(msg.Sender); ok {
		s.touch(msg.Sender)
	}
}
