package redislock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	platformredis "supply-billing/internal/platform/redis"
	settlement "supply-billing/internal/settlement/domain"
)

func TestLockerExcludesSecondHolder(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := platformredis.NewClient(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer client.Close()

	locker, err := New(client, "test:lock:")
	require.NoError(t, err)
	key := "correction:" + uuid.NewString()

	release, err := locker.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, key, 5*time.Second)
	require.ErrorIs(t, err, settlement.ErrLockHeld)
	require.ErrorIs(t, err, settlement.ErrConflict)

	require.NoError(t, release(ctx))
	again, err := locker.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(nil, "")
	require.Error(t, err)
}
