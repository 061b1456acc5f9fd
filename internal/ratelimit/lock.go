package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds our token, so an expired lease
// never frees a lock another terminal has since taken.
const releaseIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var errLockNotConfigured = errors.New("settlement lock not configured")

// orderLock hands out one lease per order at a time.
type orderLock struct {
	client  *redis.Client
	release *redis.Script
	ttl     time.Duration
}

type lease struct {
	key   string
	token string
}

func newOrderLock(client *redis.Client, ttl time.Duration) *orderLock {
	if client == nil {
		return nil
	}
	return &orderLock{
		client:  client,
		release: redis.NewScript(releaseIfOwner),
		ttl:     ttl,
	}
}

// acquire returns ok=false when another lease on orderID is still live.
func (l *orderLock) acquire(ctx context.Context, orderID string) (lease, bool, error) {
	if l == nil || l.client == nil {
		return lease{}, false, errLockNotConfigured
	}
	if orderID == "" {
		return lease{}, false, errors.New("order id is empty")
	}
	if l.ttl <= 0 {
		return lease{}, false, errors.New("settlement lock ttl must be positive")
	}

	held := lease{key: fmt.Sprintf(keySettlementLock, orderID), token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, held.key, held.token, l.ttl).Result()
	if err != nil {
		return lease{}, false, err
	}
	return held, ok, nil
}

func (l *orderLock) releaseLease(ctx context.Context, held lease) error {
	if l == nil || l.client == nil || held.token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{held.key}, held.token).Err()
}
