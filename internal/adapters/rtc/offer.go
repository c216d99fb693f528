package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var ErrNoAudio = errors.New("offer has no audio section")

// ValidateOffer checks that offer parses and negotiates at least one audio section.
func ValidateOffer(offer webrtc.SessionDescription) error {
	if offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("unexpected sdp type %s", offer.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		return fmt.Errorf("parse offer: %w", err)
	}
	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return nil
		}
	}
	return ErrNoAudio
}
