package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/dkeye/dumpvoice/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, now *time.Time) *Gate {
	t.Helper()
	dir := store.NewMemory()
	u, err := domain.NewUser(1, "alice@example.com", "alice")
	require.NoError(t, err)
	dir.AddUser(u)
	dir.AddChannel(&domain.Channel{ID: 7, ServerID: 100, Name: "General", Type: domain.ChannelVoice})
	dir.AddChannel(&domain.Channel{ID: 8, ServerID: 200, Name: "Other", Type: domain.ChannelVoice})
	dir.AddMember(100, 1)

	g := NewGate("secret", time.Hour, dir)
	g.Now = func() time.Time { return *now }
	return g
}

func TestAuthorizeAccepts(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGate(t, &now)
	tok, _, err := g.Issue("alice@example.com")
	require.NoError(t, err)

	id, err := g.Authorize(context.Background(), 7, tok)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID(1), id.User.ID)
	assert.Equal(t, domain.ChannelID(7), id.Channel.ID)
	assert.False(t, id.Refreshed)
	assert.Equal(t, tok, id.Token)
}

func TestAuthorizeRefreshesExpiredToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGate(t, &now)
	tok, _, err := g.Issue("alice@example.com")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	id, err := g.Authorize(context.Background(), 7, tok)
	require.NoError(t, err)
	assert.True(t, id.Refreshed)
	assert.NotEqual(t, tok, id.Token)
	assert.Equal(t, now.Add(time.Hour), id.ExpiresAt)

	email, expired, err := g.Verify(id.Token)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, "alice@example.com", email)
}

func TestAuthorizeRejections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGate(t, &now)
	good, _, err := g.Issue("alice@example.com")
	require.NoError(t, err)
	ghost, _, err := g.Issue("ghost@example.com")
	require.NoError(t, err)
	other := NewGate("other-secret", time.Hour, g.Directory)
	other.Now = g.Now
	forged, _, err := other.Issue("alice@example.com")
	require.NoError(t, err)

	cases := []struct {
		name   string
		ch     domain.ChannelID
		token  string
		err    error
		reason string
	}{
		{"garbage", 7, "not-a-jwt", ErrAuth, ReasonInvalidToken},
		{"wrong secret", 7, forged, ErrAuth, ReasonInvalidToken},
		{"unknown user", 7, ghost, ErrUserNotFound, ReasonUserNotFound},
		{"unknown channel", 99, good, ErrChannelNotFound, ReasonChannel},
		{"foreign server", 8, good, ErrNotMember, ReasonNotMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Authorize(context.Background(), tc.ch, tc.token)
			require.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.reason, Reason(err))
		})
	}
}

func TestRefresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGate(t, &now)
	tok, _, err := g.Issue("alice@example.com")
	require.NoError(t, err)

	fresh, err := g.Refresh(context.Background(), tok)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	now = now.Add(90 * time.Minute)
	fresh, err = g.Refresh(context.Background(), tok)
	require.NoError(t, err)
	assert.NotEmpty(t, fresh)
}

type brokenDirectory struct{ store.Directory }

func (brokenDirectory) Channel(context.Context, domain.ChannelID) (*domain.Channel, error) {
	return nil, errors.New("connection refused")
}

func TestAuthorizeDirectoryFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGate(t, &now)
	g.Directory = brokenDirectory{Directory: g.Directory}
	tok, _, err := g.Issue("alice@example.com")
	require.NoError(t, err)

	_, err = g.Authorize(context.Background(), 7, tok)
	assert.ErrorIs(t, err, ErrDirectory)
	assert.Equal(t, "Database error", Reason(err))
}

func TestRefreshRequiresKnownActiveUser(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGate(t, &now)
	ghost, _, err := g.Issue("ghost@example.com")
	require.NoError(t, err)

	dir := g.Directory.(*store.Memory)
	u, err := domain.NewUser(2, "bob@example.com", "bob")
	require.NoError(t, err)
	u.IsActive = false
	dir.AddUser(u)
	inactive, _, err := g.Issue("bob@example.com")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)

	fresh, err := g.Refresh(context.Background(), ghost)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Empty(t, fresh)
	assert.Equal(t, "User not found", Reason(err))

	fresh, err = g.Refresh(context.Background(), inactive)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Empty(t, fresh)
}

func TestCallerAndAccess(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := newTestGate(t, &now)
	ctx := context.Background()
	tok, _, err := g.Issue("alice@example.com")
	require.NoError(t, err)

	u, err := g.Caller(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID(1), u.ID)

	ch, err := g.Access(ctx, u, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelID(7), ch.ID)
	_, err = g.Access(ctx, u, 8)
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = g.Access(ctx, u, 99)
	assert.ErrorIs(t, err, ErrChannelNotFound)

	now = now.Add(2 * time.Hour)
	_, err = g.Caller(ctx, tok)
	assert.ErrorIs(t, err, ErrAuth)
}
