package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"supply-billing/internal/settlement/application"
	settlement "supply-billing/internal/settlement/domain"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a Redis backed application.Locker (SET NX PX with a random token).
type Locker struct {
	client *redis.Client
	prefix string
}

// New returns a locker. Keys are stored under prefix.
func New(client *redis.Client, prefix string) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redislock: nil client")
	}
	if prefix == "" {
		prefix = "settlement:lock:"
	}
	return &Locker{client: client, prefix: prefix}, nil
}

func (l *Locker) key(name string) string {
	return l.prefix + name
}

// Lock takes key for ttl or fails with settlement.ErrLockHeld.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (application.Release, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redislock: non-positive ttl %s", ttl)
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", settlement.ErrLockHeld, key)
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key(key)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redislock: release %s: %w", key, err)
		}
		return nil
	}, nil
}
