package core

// Frame is a raw payload.
type Frame []byte

type MessageType int

const (
	TextMessage MessageType = iota
	BinaryMessage
)

// Message is one outbound frame together with its framing.
type Message struct {
	Type MessageType
	Data Frame
}

func Text(data []byte) Message   { return Message{Type: TextMessage, Data: data} }
func Binary(data []byte) Message { return Message{Type: BinaryMessage, Data: data} }

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Message) error
	Close()
}
