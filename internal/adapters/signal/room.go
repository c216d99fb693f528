package signal

import (
	"context"
)

func (s *session) handleJoin(ctx context.Context) {
	res, err := s.ctl.Orch.Join(s.sid)
	if err != nil {
		s.logger.Error().Err(err).Msg("join")
		s.sendError("join_failed")
		return
	}
	s.fire(ctx, EventJoin)
	s.logger.Info().Bool("joined", res.Joined).Int("size", res.Size).Bool("echo", res.EchoMode).Msg("join")
}

// handleLeave leaves the channel; the caller ends the loop afterwards.
func (s *session) handleLeave(ctx context.Context) {
	if _, ok := s.ctl.Orch.Leave(s.sid); !ok {
		s.logger.Debug().Msg("leave without membership")
	}
	s.fire(ctx, EventLeave)
	s.logger.Info().Msg("leave")
}
