package domain

type (
	ChannelID int64
	ServerID  int64
)

type ChannelType string

const (
	ChannelText     ChannelType = "text"
	ChannelVoice    ChannelType = "voice"
	ChannelCategory ChannelType = "category"
	ChannelMusic    ChannelType = "music"
	ChannelGame     ChannelType = "game"
)

type Channel struct {
	ID       ChannelID   `json:"id"`
	ServerID ServerID    `json:"server_id"`
	Name     string      `json:"name"`
	Type     ChannelType `json:"type"`
}
