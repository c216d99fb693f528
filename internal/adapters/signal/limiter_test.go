package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandshakeLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewHandshakeLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
	assert.True(t, rl.Allow(2), "users are limited separately")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow(1))

	now = now.Add(2 * time.Minute)
	rl.Prune()
	assert.Empty(t, rl.history)
}

func TestHandshakeLimiterDisabled(t *testing.T) {
	rl := NewHandshakeLimiter(0, time.Minute)
	for range 10 {
		assert.True(t, rl.Allow(1))
	}
}
