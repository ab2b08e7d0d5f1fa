package memory

import (
	"context"
	"sync"
	"time"

	"supply-billing/internal/settlement/application"
	settlement "supply-billing/internal/settlement/domain"
)

// Locker is a process-local application.Locker with expiring keys.
type Locker struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]lease
	next uint64
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLocker constructs a locker.
func NewLocker() *Locker {
	return &Locker{now: time.Now, held: make(map[string]lease)}
}

// Lock takes key for ttl or fails with settlement.ErrLockHeld.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (application.Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if current, ok := l.held[key]; ok && now.Before(current.expires) {
		return nil, settlement.ErrLockHeld
	}
	l.next++
	token := l.next
	l.held[key] = lease{token: token, expires: now.Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.held[key]; ok && current.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
