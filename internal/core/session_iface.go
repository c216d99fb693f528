package core

// SessionID identifies one live connection. A user may hold several over time.
type SessionID string
