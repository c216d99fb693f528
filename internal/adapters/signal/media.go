package signal

import (
	"encoding/base64"
	"encoding/json"

	"github.com/dkeye/dumpvoice/internal/core"
)

// handleBinary relays a raw audio frame, or loops it back to the sender
// while it is not in a channel.
func (s *session) handleBinary(data []byte) {
	if _, ok := s.ctl.Orch.OnFrame(s.sid, core.KindAudio, data); ok {
		return
	}
	s.send(core.Binary(data))
}

// handleMediaJSON relays {type, data} frames. Outside a channel the frame
// comes back to its sender wrapped in an echo envelope.
func (s *session) handleMediaJSON(kind core.MediaKind, data json.RawMessage, raw []byte) {
	if len(data) == 0 {
		s.logger.Warn().Str("kind", string(kind)).Msg("media frame without data dropped")
		return
	}
	var audio []byte
	if kind == core.KindAudio {
		audio = audioBytes(data)
	}
	if _, ok := s.ctl.Orch.OnMedia(s.sid, kind, data, audio); ok {
		return
	}
	s.handleEcho(raw)
}

// audioBytes decodes base64 string payloads; anything else is passed as is.
func audioBytes(data json.RawMessage) []byte {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return data
	}
	if b, err := base64.StdEncoding.DecodeString(str); err == nil {
		return b
	}
	return []byte(str)
}
