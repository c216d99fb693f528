package signal

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateUpdate(t *testing.T) {
	yes := true
	cases := []struct {
		typ  string
		p    statePayload
		want domain.ParticipantState
	}{
		{"mute_state", statePayload{IsMuted: &yes}, domain.ParticipantState{IsMuted: true}},
		{"deafen_state", statePayload{IsDeafened: &yes}, domain.ParticipantState{IsDeafened: true}},
		{"video_state", statePayload{IsEnabled: &yes}, domain.ParticipantState{IsVideoEnabled: true}},
		{"screen_share_state", statePayload{IsEnabled: &yes}, domain.ParticipantState{IsScreenSharing: true}},
	}
	for _, tc := range cases {
		t.Run(tc.typ, func(t *testing.T) {
			fn, ok := stateUpdate(tc.typ, tc.p)
			require.True(t, ok)
			var st domain.ParticipantState
			fn(&st)
			assert.Equal(t, tc.want, st)
		})
	}

	_, ok := stateUpdate("mute_state", statePayload{IsEnabled: &yes})
	assert.False(t, ok)
}

func TestAudioBytes(t *testing.T) {
	assert.Equal(t, []byte{1, 2, 3}, audioBytes(json.RawMessage(`"AQID"`)))
	assert.Equal(t, []byte("not base64!"), audioBytes(json.RawMessage(`"not base64!"`)))
	assert.Equal(t, []byte(`[1,2]`), audioBytes(json.RawMessage(`[1,2]`)))
}
