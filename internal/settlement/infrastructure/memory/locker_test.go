package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	settlement "supply-billing/internal/settlement/domain"
)

func TestLockerExpiresAndReleases(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocker()
	l.now = func() time.Time { return now }

	release, err := l.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = l.Lock(ctx, "k", time.Minute)
	require.ErrorIs(t, err, settlement.ErrLockHeld)

	now = now.Add(2 * time.Minute)
	second, err := l.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)

	// A stale release must not drop the new holder.
	require.NoError(t, release(ctx))
	_, err = l.Lock(ctx, "k", time.Minute)
	require.ErrorIs(t, err, settlement.ErrLockHeld)

	require.NoError(t, second(ctx))
	_, err = l.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
}
