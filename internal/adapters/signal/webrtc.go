package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

type candidateMessage struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func (s *session) sendCandidate(ci webrtc.ICECandidateInit) {
	s.sendJSON(candidateMessage{
		Type:          "candidate",
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	})
}

// handleOffer opens the WebRTC leg of the session. It needs a joined
// channel, since the answer carries the user's output endpoint.
func (s *session) handleOffer(ctx context.Context, data []byte) {
	var p struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" {
		s.logger.Warn().Err(err).Msg("bad offer payload")
		s.sendError("bad_payload")
		return
	}

	mc, err := s.ctl.NewMedia(s.sid)
	if err != nil {
		s.logger.Error().Err(err).Msg("webrtc new pc")
		s.sendError("media_unavailable")
		return
	}
	mc.OnICECandidate(s.sendCandidate)
	if err := mc.Start(ctx); err != nil {
		s.logger.Error().Err(err).Msg("webrtc start")
		mc.Close()
		s.sendError("media_unavailable")
		return
	}
	if err := s.ctl.Orch.AttachMedia(s.sid, mc); err != nil {
		s.logger.Warn().Err(err).Msg("webrtc attach")
		mc.Close()
		s.sendError("media_unavailable")
		return
	}

	answer, err := mc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("webrtc apply offer")
		mc.Close()
		s.sendError("bad_offer")
		return
	}

	s.sendJSON(map[string]string{
		"type": "answer",
		"sdp":  answer.SDP,
	})
}

func (s *session) handleCandidate(data []byte) {
	var p candidateMessage
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn().Err(err).Msg("bad candidate payload")
		return
	}
	sess, ok := s.ctl.Orch.Registry.Session(s.sid)
	if !ok || sess.Media == nil {
		s.logger.Warn().Msg("candidate: no media connection")
		return
	}
	cand := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if err := sess.Media.AddICECandidate(cand); err != nil {
		s.logger.Error().Err(err).Msg("add ice candidate")
	}
}
