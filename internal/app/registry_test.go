package app

import (
	"context"
	"testing"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBindCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.Bind("s1", domain.User{ID: 1, Username: "alice"}, 7, nil, cancel)

	s, ok := r.Session("s1")
	require.True(t, ok)
	assert.Equal(t, domain.UserID(1), s.User.ID)
	assert.Equal(t, domain.ChannelID(7), s.Channel)

	assert.True(t, r.Cancel("s1"))
	assert.Error(t, ctx.Err())

	r.Unbind("s1")
	assert.False(t, r.Cancel("s1"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryCancelAll(t *testing.T) {
	r := NewRegistry()
	var ctxs []context.Context
	for _, sid := range []core.SessionID{"a", "b", "c"} {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		r.Bind(sid, domain.User{ID: 1}, 1, nil, cancel)
	}
	assert.Equal(t, 3, r.CancelAll())
	for _, ctx := range ctxs {
		assert.Error(t, ctx.Err())
	}
}

func TestPolicyFromName(t *testing.T) {
	p, err := PolicyFromName("kick")
	require.NoError(t, err)
	assert.Equal(t, KickMember, p.OnBackPressure(1, core.Recipient{}))

	p, err = PolicyFromName("ignore")
	require.NoError(t, err)
	assert.Equal(t, NoAction, p.OnBackPressure(1, core.Recipient{}))

	_, err = PolicyFromName("explode")
	assert.Error(t, err)
}
