package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds our token, so
// an expired lock reacquired by another worker is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// TickGuard is a Redis-backed mutual exclusion guard for the dispatch tick.
// External schedulers can fire early, late, or concurrently with a slow
// previous invocation; the guard makes overlapping ticks a no-op instead of
// a double send.
type TickGuard struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewTickGuard creates a guard on key with the given lease ttl. The ttl
// should comfortably exceed the worst-case tick duration.
func NewTickGuard(client *redis.Client, key string, ttl time.Duration) *TickGuard {
	return &TickGuard{client: client, key: key, ttl: ttl}
}

// TryAcquire attempts to take the lock. Returns false without error when
// another tick currently holds it.
func (g *TickGuard) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.New().String()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire tick lock: %w", err)
	}
	if ok {
		g.token = token
	}
	return ok, nil
}

// Release frees the lock if this guard still owns it.
func (g *TickGuard) Release(ctx context.Context) error {
	if g.token == "" {
		return nil
	}
	token := g.token
	g.token = ""
	if err := releaseScript.Run(ctx, g.client, []string{g.key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release tick lock: %w", err)
	}
	return nil
}
