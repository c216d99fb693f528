package app

import (
	"fmt"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a recipient whose send queue is full.
type Policy interface {
	OnBackPressure(ch domain.ChannelID, r core.Recipient) BackpressureAction
}

// IgnorePolicy drops the frame for that recipient only.
type IgnorePolicy struct{}

func (IgnorePolicy) OnBackPressure(domain.ChannelID, core.Recipient) BackpressureAction {
	return NoAction
}

// KickPolicy ends the session of a recipient that cannot keep up.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.ChannelID, core.Recipient) BackpressureAction {
	return KickMember
}

func PolicyFromName(name string) (Policy, error) {
	switch name {
	case "", "ignore":
		return IgnorePolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", name)
}
