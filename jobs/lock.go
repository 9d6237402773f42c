package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock guards the refresh pipeline so that at most one ingestion runs at a
// time. The owner is the id of the job holding it.
type Lock interface {
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
	// Owner returns the current holder, or "" when the lock is free.
	Owner(ctx context.Context) (string, error)
}

// LocalLock is an in-process lock. Expired holds are reclaimable.
type LocalLock struct {
	mu      sync.Mutex
	owner   string
	expires time.Time
	now     func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{now: time.Now}
}

func (l *LocalLock) Acquire(_ context.Context, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.owner != "" && now.Before(l.expires) {
		return false, nil
	}
	l.owner = owner
	l.expires = now.Add(ttl)
	return true, nil
}

func (l *LocalLock) Release(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == owner {
		l.owner = ""
		l.expires = time.Time{}
	}
	return nil
}

func (l *LocalLock) Owner(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == "" || !l.now().Before(l.expires) {
		return "", nil
	}
	return l.owner, nil
}

const redisLockKey = "cpi:refresh:lock"

// Only the holder may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock shares the refresh lock between instances using SET NX with a
// TTL, so a crashed holder frees it once the job timeout passes.
type RedisLock struct {
	client *redis.Client
	key    string
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, key: redisLockKey}
}

// DialRedisLock connects to redisURL and verifies the connection.
func DialRedisLock(ctx context.Context, redisURL string) (*RedisLock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLock(client), nil
}

func (r *RedisLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

func (r *RedisLock) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, owner).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (r *RedisLock) Owner(ctx context.Context) (string, error) {
	owner, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lock owner: %w", err)
	}
	return owner, nil
}

func (r *RedisLock) Close() error {
	return r.client.Close()
}
