// Package identity resolves a connection credential into a verified user and channel.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/dkeye/dumpvoice/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var (
	ErrAuth            = errors.New("invalid token")
	ErrUserNotFound    = errors.New("user not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotMember       = errors.New("not a member of this server")
	ErrDirectory       = errors.New("directory error")
)

// Close reasons sent with the rejection close frame.
const (
	ReasonInvalidToken = "Invalid token"
	ReasonUserNotFound = "User not found"
	ReasonChannel      = "Channel not found"
	ReasonNotMember    = "Not a member of this server"
	ReasonDatabase     = "Database error"
)

// Reason maps a gate error to its close reason.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return ReasonUserNotFound
	case errors.Is(err, ErrChannelNotFound):
		return ReasonChannel
	case errors.Is(err, ErrNotMember):
		return ReasonNotMember
	case errors.Is(err, ErrDirectory):
		return ReasonDatabase
	default:
		return ReasonInvalidToken
	}
}

// Identity is the accepted result of a handshake.
type Identity struct {
	User      *domain.User
	Channel   *domain.Channel
	Token     string
	ExpiresAt time.Time
	// Refreshed means Token was reissued and the client must be told.
	Refreshed bool
}

// Gate verifies HS256 tokens whose subject is the user email.
type Gate struct {
	Secret    []byte
	TTL       time.Duration
	Directory store.Directory
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewGate(secret string, ttl time.Duration, dir store.Directory) *Gate {
	return &Gate{Secret: []byte(secret), TTL: ttl, Directory: dir}
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Issue signs a fresh token for email.
func (g *Gate) Issue(email string) (string, time.Time, error) {
	exp := g.now().Add(g.TTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(g.now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString(g.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, exp, nil
}

// Verify returns the subject of token. An expired but correctly signed token
// yields its subject together with expired=true.
func (g *Gate) Verify(token string) (email string, expired bool, err error) {
	claims := &jwt.RegisteredClaims{}
	_, err = g.parse(token, claims, jwt.WithTimeFunc(g.now))
	if errors.Is(err, jwt.ErrTokenExpired) {
		// the signature still has to hold for a refresh
		claims = &jwt.RegisteredClaims{}
		_, err = g.parse(token, claims, jwt.WithoutClaimsValidation())
		expired = true
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if claims.Subject == "" {
		return "", false, fmt.Errorf("%w: no subject", ErrAuth)
	}
	return claims.Subject, expired, nil
}

func (g *Gate) parse(token string, claims jwt.Claims, opts ...jwt.ParserOption) (*jwt.Token, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return g.Secret, nil
	}, opts...)
}

// Refresh reissues token if it has expired. It returns "" when token is still
// valid. Only a known active user gets a new token.
func (g *Gate) Refresh(ctx context.Context, token string) (string, error) {
	email, expired, err := g.Verify(token)
	if err != nil {
		return "", err
	}
	if !expired {
		return "", nil
	}
	user, err := g.activeUser(ctx, email)
	if err != nil {
		return "", err
	}
	fresh, _, err := g.Issue(user.Email)
	return fresh, err
}

func (g *Gate) activeUser(ctx context.Context, email string) (*domain.User, error) {
	user, err := g.Directory.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: inactive user %d", ErrAuth, user.ID)
	}
	return user, nil
}

// Authorize admits the bearer of token into channel ch.
func (g *Gate) Authorize(ctx context.Context, ch domain.ChannelID, token string) (*Identity, error) {
	email, expired, err := g.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := g.activeUser(ctx, email)
	if err != nil {
		return nil, err
	}

	id := &Identity{User: user, Token: token}
	if expired {
		fresh, exp, err := g.Issue(user.Email)
		if err != nil {
			return nil, err
		}
		id.Token, id.ExpiresAt, id.Refreshed = fresh, exp, true
		log.Info().Str("module", "identity").Int64("user", int64(user.ID)).Msg("token refreshed at handshake")
	}

	channel, err := g.Access(ctx, user, ch)
	if err != nil {
		return nil, err
	}
	id.Channel = channel
	return id, nil
}

// Caller resolves the holder of a valid, unexpired token.
func (g *Gate) Caller(ctx context.Context, token string) (*domain.User, error) {
	email, expired, err := g.Verify(token)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, fmt.Errorf("%w: expired", ErrAuth)
	}
	return g.activeUser(ctx, email)
}

// Access returns channel ch if user belongs to the server that owns it.
func (g *Gate) Access(ctx context.Context, user *domain.User, ch domain.ChannelID) (*domain.Channel, error) {
	channel, err := g.Directory.Channel(ctx, ch)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, ch)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	ok, err := g.Directory.IsServerMember(ctx, channel.ServerID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: user %d server %d", ErrNotMember, user.ID, channel.ServerID)
	}
	return channel, nil
}
