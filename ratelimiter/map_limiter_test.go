package ratelimiter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapLimiterPerKeyBurst(t *testing.T) {
	l := New(Config{Identity: Limit{RPS: 1, Burst: 2}, IdleTTL: time.Minute})
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, l.Allow(ClassIdentity, "alice", now))
	assert.True(t, l.Allow(ClassIdentity, "alice", now))
	assert.False(t, l.Allow(ClassIdentity, "alice", now), "burst exhausted")
	assert.True(t, l.Allow(ClassIdentity, "bob", now), "keys are independent")

	assert.True(t, l.Allow(ClassIdentity, "alice", now.Add(time.Second)), "token refilled")
}

func TestMapLimiterClasses(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("anonymous defaults to the identity limit", func(t *testing.T) {
		l := New(Config{Identity: Limit{RPS: 1, Burst: 1}})
		assert.True(t, l.Allow(ClassAnonymous, "10.0.0.1", now))
		assert.False(t, l.Allow(ClassAnonymous, "10.0.0.1", now))
	})

	t.Run("anonymous burst falls back to the identity burst", func(t *testing.T) {
		l := New(Config{Identity: Limit{RPS: 1, Burst: 2}, Anonymous: Limit{RPS: 0.5}})
		assert.True(t, l.Allow(ClassAnonymous, "10.0.0.1", now))
		assert.True(t, l.Allow(ClassAnonymous, "10.0.0.1", now))
		assert.False(t, l.Allow(ClassAnonymous, "10.0.0.1", now))
	})

	t.Run("classes have separate buckets for the same key", func(t *testing.T) {
		l := New(Config{Identity: Limit{RPS: 1, Burst: 1}})
		assert.True(t, l.Allow(ClassIdentity, "k", now))
		assert.True(t, l.Allow(ClassAnonymous, "k", now))
		assert.Equal(t, 2, l.Len())
	})

	t.Run("stricter anonymous limit", func(t *testing.T) {
		l := New(Config{Identity: Limit{RPS: 1, Burst: 3}, Anonymous: Limit{RPS: 1, Burst: 1}})
		for range 3 {
			assert.True(t, l.Allow(ClassIdentity, "alice", now))
		}
		assert.True(t, l.Allow(ClassAnonymous, "10.0.0.1", now))
		assert.False(t, l.Allow(ClassAnonymous, "10.0.0.1", now))
	})

	t.Run("only anonymous callers limited", func(t *testing.T) {
		l := New(Config{Anonymous: Limit{RPS: 1, Burst: 1}})
		require.NotNil(t, l)
		for range 5 {
			assert.True(t, l.Allow(ClassIdentity, "alice", now))
		}
		assert.True(t, l.Allow(ClassAnonymous, "10.0.0.1", now))
		assert.False(t, l.Allow(ClassAnonymous, "10.0.0.1", now))
	})

	assert.Equal(t, "anonymous", ClassAnonymous.String())
	assert.Equal(t, "identity", ClassIdentity.String())
}

func TestMapLimiterDisabled(t *testing.T) {
	l := New(Config{Identity: Limit{RPS: 0, Burst: 10}})
	assert.Nil(t, l)
	for range 100 {
		assert.True(t, l.Allow(ClassIdentity, "alice", time.Now()))
	}
	assert.Equal(t, 0, l.Len())
}

func TestMapLimiterSweepsIdleKeys(t *testing.T) {
	l := New(Config{Identity: Limit{RPS: 100, Burst: 100}, IdleTTL: time.Minute})
	start := time.Unix(1_700_000_000, 0)

	for i := range 10 {
		l.Allow(ClassIdentity, fmt.Sprintf("key-%d", i), start)
	}
	assert.Equal(t, 10, l.Len())

	// Within the TTL nothing is swept
	l.Allow(ClassIdentity, "key-0", start.Add(30*time.Second))
	assert.Equal(t, 10, l.Len())

	// After the TTL only buckets seen within the last TTL survive
	l.Allow(ClassIdentity, "fresh", start.Add(80*time.Second))
	assert.Equal(t, 2, l.Len())
}

func TestMapLimiterBlankKeyIsNotLimited(t *testing.T) {
	l := New(Config{Identity: Limit{RPS: 1, Burst: 1}, IdleTTL: time.Minute})
	now := time.Now()
	assert.True(t, l.Allow(ClassIdentity, "  ", now))
	assert.True(t, l.Allow(ClassIdentity, "", now))
	assert.Equal(t, 0, l.Len())
}
