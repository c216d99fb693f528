package core

import (
	"encoding/json"

	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	Delivered []domain.UserID
	Dropped   []Recipient
}

func (r PublishResult) SendTo() int { return len(r.Delivered) }

// PublishObserver is notified after every broadcast.
type PublishObserver interface {
	ObserveBroadcast(kind string, res PublishResult)
}

// Fanout delivers channel events to every current member.
// Sends happen over a snapshot taken from Members, never under its lock.
type Fanout struct {
	Members *Table
	// IncludeSender makes Relay echo media back to its sender as well.
	IncludeSender bool
	Observer      PublishObserver
}

func (f *Fanout) AnnounceJoin(ch domain.ChannelID, p domain.Participant, echo bool) PublishResult {
	return f.publish(ch, nil, TypeParticipantJoined, ParticipantJoined{
		Type:        TypeParticipantJoined,
		Participant: p,
		IsEchoMode:  echo,
	})
}

func (f *Fanout) AnnounceLeave(ch domain.ChannelID, uid domain.UserID, echo bool) PublishResult {
	return f.publish(ch, nil, TypeParticipantLeft, ParticipantLeft{
		Type:       TypeParticipantLeft,
		UserID:     uid,
		IsEchoMode: echo,
	})
}

func (f *Fanout) AnnounceUpdate(ch domain.ChannelID, p domain.Participant) PublishResult {
	return f.publish(ch, nil, TypeParticipantUpdated, ParticipantUpdated{
		Type:        TypeParticipantUpdated,
		Participant: p,
	})
}

// Relay forwards an opaque media payload tagged with its sender.
func (f *Fanout) Relay(ch domain.ChannelID, sender domain.UserID, kind MediaKind, data json.RawMessage) PublishResult {
	var exclude *domain.UserID
	if !f.IncludeSender {
		exclude = &sender
	}
	return f.publish(ch, exclude, string(kind), MediaRelay{
		Type:     kind,
		SenderID: sender,
		Data:     data,
	})
}

func (f *Fanout) publish(ch domain.ChannelID, exclude *domain.UserID, kind string, v any) PublishResult {
	msg, err := Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.fanout").Str("kind", kind).Msg("encode")
		return PublishResult{}
	}
	return f.Broadcast(ch, exclude, kind, msg)
}

// Broadcast sends msg to the members of ch. A failed recipient is logged and
// skipped; it never stops delivery to the others.
func (f *Fanout) Broadcast(ch domain.ChannelID, exclude *domain.UserID, kind string, msg Message) PublishResult {
	res := PublishResult{}
	for _, r := range f.Members.Recipients(ch) {
		if exclude != nil && r.UserID == *exclude {
			continue
		}
		if r.Conn == nil {
			continue
		}
		if err := r.Conn.TrySend(msg); err != nil {
			log.Warn().Err(err).
				Str("module", "core.fanout").
				Int64("channel", int64(ch)).
				Int64("user", int64(r.UserID)).
				Str("kind", kind).
				Msg("delivery failed")
			res.Dropped = append(res.Dropped, r)
			continue
		}
		res.Delivered = append(res.Delivered, r.UserID)
	}
	log.Debug().Str("module", "core.fanout").Int64("channel", int64(ch)).Str("kind", kind).Int("sent_to", res.SendTo()).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	if f.Observer != nil {
		f.Observer.ObserveBroadcast(kind, res)
	}
	return res
}
