package signal

import (
	"encoding/json"

	"github.com/dkeye/dumpvoice/internal/domain"
)

type statePayload struct {
	IsMuted    *bool `json:"isMuted"`
	IsDeafened *bool `json:"isDeafened"`
	IsEnabled  *bool `json:"isEnabled"`
}

// stateUpdate maps a state frame onto a mutation of ParticipantState.
func stateUpdate(typ string, p statePayload) (func(*domain.ParticipantState), bool) {
	switch {
	case typ == "mute_state" && p.IsMuted != nil:
		v := *p.IsMuted
		return func(st *domain.ParticipantState) { st.IsMuted = v }, true
	case typ == "deafen_state" && p.IsDeafened != nil:
		v := *p.IsDeafened
		return func(st *domain.ParticipantState) { st.IsDeafened = v }, true
	case typ == "video_state" && p.IsEnabled != nil:
		v := *p.IsEnabled
		return func(st *domain.ParticipantState) { st.IsVideoEnabled = v }, true
	case typ == "screen_share_state" && p.IsEnabled != nil:
		v := *p.IsEnabled
		return func(st *domain.ParticipantState) { st.IsScreenSharing = v }, true
	}
	return nil, false
}

func (s *session) handleState(typ string, data []byte) {
	var p statePayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn().Err(err).Str("type", typ).Msg("bad state payload")
		s.sendError("bad_payload")
		return
	}
	fn, ok := stateUpdate(typ, p)
	if !ok {
		s.sendError("bad_payload")
		return
	}
	if _, ok := s.ctl.Orch.UpdateState(s.sid, fn); !ok {
		s.logger.Warn().Str("type", typ).Msg("state update outside channel ignored")
	}
}
