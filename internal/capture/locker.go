package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/config"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrLockBusy means another capture attempt holds the booking.
var ErrLockBusy = errors.New("booking_lock_busy")

// Locker grants exclusive access to a booking for the span of a capture
// attempt. The database row lock still guards the transaction itself; this
// serializes the processor round-trip across processes and backends that
// lack row locks.
type Locker interface {
	Acquire(ctx context.Context, bookingID snowflake.ID) (release func(), err error)
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*sync.Mutex
}

// NewKeyedMutex returns an in-process locker, the single-instance default.
func NewKeyedMutex() Locker {
	return &keyedMutex{locks: make(map[snowflake.ID]*sync.Mutex)}
}

func (k *keyedMutex) Acquire(ctx context.Context, bookingID snowflake.ID) (func(), error) {
	_ = ctx
	k.mu.Lock()
	lock, ok := k.locks[bookingID]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[bookingID] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock, nil
}

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type redisLocker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

// NewRedisLocker coordinates booking locks across instances via SetNX with a
// scripted compare-and-delete release.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
	}
}

func (l *redisLocker) Acquire(ctx context.Context, bookingID snowflake.ID) (func(), error) {
	key := "capture:booking:" + bookingID.String()
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockBusy
	}

	release := func() {
		_ = l.script.Run(context.Background(), l.client, []string{key}, token).Err()
	}
	return release, nil
}

// ProvideLocker picks the redis locker when an endpoint is configured.
func ProvideLocker(cfg config.Config) Locker {
	if cfg.RedisAddr == "" {
		return NewKeyedMutex()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return NewRedisLocker(client, 30*time.Second)
}
