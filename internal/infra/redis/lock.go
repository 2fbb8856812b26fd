package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"telegram-outreach-fleet/internal/domain"
)

// SessionLocker guards each Telegram auth key with a short-lived exclusive
// lock so two workers never drive the same session concurrently. Telegram
// revokes sessions it sees connecting from two places at once.
type SessionLocker interface {
	TryLock(ctx context.Context, accountID string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, accountID, token string) error
	Refresh(ctx context.Context, accountID, token string, ttl time.Duration) error
}

type redisLocker struct {
	cli *redis.Client
}

var _ SessionLocker = (*redisLocker)(nil)

func NewSessionLocker(c *Client) *redisLocker {
	return &redisLocker{cli: c.cli}
}

func lockKey(accountID string) string { return "session_lock:" + accountID }

func (l *redisLocker) TryLock(ctx context.Context, accountID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < 5; i++ {
		ok, err := l.cli.SetNX(ctx, lockKey(accountID), token, ttl).Result()
		if err != nil {
			continue
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return "", domain.ErrSessionLocked
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *redisLocker) Unlock(ctx context.Context, accountID, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{lockKey(accountID)}, token).Result()
	return err
}

var luaRefresh = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// Refresh extends the lock TTL; a zero result means the lock was lost.
func (l *redisLocker) Refresh(ctx context.Context, accountID, token string, ttl time.Duration) error {
	n, err := luaRefresh.Run(ctx, l.cli, []string{lockKey(accountID)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSessionLocked
	}
	return nil
}
