package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-dns/cf-app-keepalive/internal/config"
	"github.com/auto-dns/cf-app-keepalive/internal/lockstore"
)

func TestGuardLockKey(t *testing.T) {
	at := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("CET", 3600))

	daily := NewGuard(lockstore.NewMemoryStore(), testLockConfig())
	assert.Equal(t, "lock/a/2024-03-01", daily.LockKey("a", at))

	cfg := testLockConfig()
	cfg.Mode = config.LockModeRolling
	rolling := NewGuard(lockstore.NewMemoryStore(), cfg)
	assert.Equal(t, "lock/a", rolling.LockKey("a", at))
}

func TestGuardLockExpires(t *testing.T) {
	now := testNow
	store := lockstore.NewMemoryStore().WithClock(func() time.Time { return now })
	cfg := testLockConfig()
	cfg.Mode = config.LockModeRolling
	g := NewGuard(store, cfg)
	ctx := context.Background()

	require.NoError(t, g.Lock(ctx, "a", now))
	locked, err := g.Locked(ctx, "a", now)
	require.NoError(t, err)
	assert.True(t, locked)

	now = now.Add(23*time.Hour + time.Second)
	locked, err = g.Locked(ctx, "a", now)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestGuardActivationLogIsCapped(t *testing.T) {
	g := NewGuard(lockstore.NewMemoryStore(), testLockConfig())
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 9; i++ {
		require.NoError(t, g.RecordActivation(ctx, "a", base.Add(time.Duration(i)*time.Hour)))
	}

	acts, err := g.Activations(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, acts, 7)
	for i, ts := range acts {
		assert.True(t, ts.Equal(base.Add(time.Duration(8-i)*time.Hour)), "entry %d is %s", i, ts)
	}

	limited, err := g.Activations(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, acts[:2], limited)
}

func TestGuardClaim(t *testing.T) {
	g := NewGuard(lockstore.NewMemoryStore(), testLockConfig())
	ctx := context.Background()

	ok, err := g.Claim(ctx, "a", "one")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "a", "two")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g.Release(ctx, "a"))
	ok, err = g.Claim(ctx, "a", "two")
	require.NoError(t, err)
	assert.True(t, ok)
}
