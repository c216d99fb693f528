package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/gorilla/websocket"
)

func (s *session) writePump(ctx context.Context) {
	ws := s.conn.conn
	var tick <-chan time.Time
	if p := s.ctl.Opts.PingPeriod; p > 0 {
		ticker := time.NewTicker(p)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		deadline := time.Now().Add(s.ctl.Opts.WriteWait)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("writePump ctx done")
			s.drain()
			return
		case msg, ok := <-s.conn.send:
			if !ok {
				s.logger.Debug().Msg("writePump channel closed")
				return
			}
			if err := s.write(msg); err != nil {
				s.logger.Warn().Err(err).Msg("writePump write error")
				return
			}
		case <-tick:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.ctl.Opts.WriteWait)); err != nil {
				s.logger.Warn().Err(err).Msg("writePump ping")
				return
			}
		}
	}
}

// drain flushes what was queued before the session ended.
func (s *session) drain() {
	for {
		select {
		case msg, ok := <-s.conn.send:
			if !ok {
				return
			}
			if err := s.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *session) write(msg core.Message) error {
	ws := s.conn.conn
	if err := ws.SetWriteDeadline(time.Now().Add(s.ctl.Opts.WriteWait)); err != nil {
		return err
	}
	mt := websocket.TextMessage
	if msg.Type == core.BinaryMessage {
		mt = websocket.BinaryMessage
	}
	return ws.WriteMessage(mt, msg.Data)
}

func (s *session) readPump(ctx context.Context) {
	defer s.cleanup()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("readPump ctx done")
			return
		default:
		}
		mt, data, err := s.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("readPump read error")
			} else {
				s.logger.Info().Err(err).Msg("readPump closed")
			}
			return
		}
		if mt == websocket.BinaryMessage {
			s.handleBinary(data)
			continue
		}
		if stop := s.handleSignal(ctx, data); stop {
			return
		}
	}
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// handleSignal dispatches one text frame. It reports whether the loop must end.
func (s *session) handleSignal(ctx context.Context, data []byte) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn().Err(err).Msg("bad json, frame dropped")
		return false
	}

	switch env.Type {
	case "join":
		s.handleJoin(ctx)
	case "leave":
		s.handleLeave(ctx)
		return true
	case "ping":
		s.handlePing(ctx)
	case "mute_state", "deafen_state", "video_state", "screen_share_state":
		s.handleState(env.Type, data)
	case string(core.KindAudio), string(core.KindVideo), string(core.KindScreen):
		kind, _ := core.ParseMediaKind(env.Type)
		s.handleMediaJSON(kind, env.Data, data)
	case "offer":
		s.handleOffer(ctx, data)
	case "candidate":
		s.handleCandidate(data)
	default:
		s.handleEcho(data)
	}
	return false
}
