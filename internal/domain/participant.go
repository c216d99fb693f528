package domain

// ParticipantState is a user's per-channel media flags.
// Created zeroed on join, dropped on leave.
type ParticipantState struct {
	IsMuted         bool `json:"isMuted"`
	IsDeafened      bool `json:"isDeafened"`
	IsVideoEnabled  bool `json:"isVideoEnabled"`
	IsScreenSharing bool `json:"isScreenSharing"`
}

// Participant is the wire view of a channel member.
type Participant struct {
	ID UserID `json:"id"`
	ParticipantState
}

func NewParticipant(id UserID, st ParticipantState) Participant {
	return Participant{ID: id, ParticipantState: st}
}
