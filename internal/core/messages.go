package core

import (
	"encoding/json"

	"github.com/dkeye/dumpvoice/internal/domain"
)

const (
	TypeParticipantJoined  = "participant_joined"
	TypeParticipantLeft    = "participant_left"
	TypeParticipantUpdated = "participant_updated"
	TypeConnectionStatus   = "connection_status"
	TypeTokenRefresh       = "token_refresh"
	TypePong               = "pong"
	TypeEcho               = "echo"
	TypeError              = "error"
)

// MediaKind tags relayed payloads.
type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

func ParseMediaKind(s string) (MediaKind, bool) {
	switch k := MediaKind(s); k {
	case KindAudio, KindVideo, KindScreen:
		return k, true
	}
	return "", false
}

type ParticipantJoined struct {
	Type        string             `json:"type"`
	Participant domain.Participant `json:"participant"`
	IsEchoMode  bool               `json:"isEchoMode"`
}

type ParticipantLeft struct {
	Type       string        `json:"type"`
	UserID     domain.UserID `json:"userId"`
	IsEchoMode bool          `json:"isEchoMode"`
}

type ParticipantUpdated struct {
	Type        string             `json:"type"`
	Participant domain.Participant `json:"participant"`
}

type MediaRelay struct {
	Type     MediaKind       `json:"type"`
	SenderID domain.UserID   `json:"sender_id"`
	Data     json.RawMessage `json:"data"`
}

type ConnectionStatus struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Pong struct {
	Type string `json:"type"`
}

type Echo struct {
	Type            string          `json:"type"`
	OriginalMessage json.RawMessage `json:"original_message"`
}

type TokenRefresh struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Encode marshals v into a text message.
func Encode(v any) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Text(b), nil
}
