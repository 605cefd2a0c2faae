package dialogue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TurnLocker serializes turns per (user, record) pair. Unrelated pairs
// proceed in parallel; a second turn on a held key fails fast with
// ErrTurnInProgress instead of queueing.
type TurnLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is the single-instance locker.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]bool)}
}

func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.held[key] {
		return nil, fmt.Errorf("%w: %s", ErrTurnInProgress, key)
	}
	k.held[key] = true
	return func() {
		k.mu.Lock()
		delete(k.held, key)
		k.mu.Unlock()
	}, nil
}

// RedisLocker serializes turns across service replicas with a SET NX lease.
// The TTL bounds how long a crashed replica can hold a session hostage.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	lockKey := "turnlock:" + key

	ok, err := r.client.SetNX(ctx, lockKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire turn lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTurnInProgress, key)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{lockKey}, token).Err()
	}, nil
}
