package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/dumpvoice/internal/core"
)

// handlePing answers with exactly one pong. An expired credential is renewed
// on the way.
func (s *session) handlePing(ctx context.Context) {
	s.sendJSON(core.Pong{Type: core.TypePong})
	s.refreshToken(ctx)
}

func (s *session) refreshToken(ctx context.Context) {
	if s.ctl.Gate == nil {
		return
	}
	fresh, err := s.ctl.Gate.Refresh(ctx, s.currentToken())
	if err != nil {
		s.logger.Warn().Err(err).Msg("token refresh")
		return
	}
	if fresh == "" {
		return
	}
	s.setToken(fresh)
	s.ctl.Metrics.TokenRefreshed()
	s.sendJSON(core.TokenRefresh{Type: core.TypeTokenRefresh, Token: fresh})
	s.logger.Info().Msg("token refreshed")
}

// handleEcho returns an unknown control frame to its sender.
func (s *session) handleEcho(data []byte) {
	s.sendJSON(core.Echo{Type: core.TypeEcho, OriginalMessage: json.RawMessage(data)})
}
