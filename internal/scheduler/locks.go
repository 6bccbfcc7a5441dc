package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billingledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockNotConfigured = errors.New("scheduler_lock_not_configured")
	ErrLockKeyEmpty      = errors.New("scheduler_lock_key_empty")
	ErrLockTTLInvalid    = errors.New("scheduler_lock_ttl_invalid")
)

// RunLocker keeps a tick exclusive across replicas.
type RunLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// RedisLocker is a single-instance redis lock: SET NX PX to acquire and a
// compare-and-delete script to release only our own token.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	if client == nil {
		return nil
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockNotConfigured
	}
	if key == "" {
		return "", false, ErrLockKeyEmpty
	}
	if ttl <= 0 {
		return "", false, ErrLockTTLInvalid
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// ProvideRunLocker connects to redis when REDIS_ADDR is set. Without it every
// replica ticks and template leases alone keep work exclusive.
func ProvideRunLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) RunLocker {
	if cfg.RedisAddr == "" {
		log.Info("scheduler run lock disabled: REDIS_ADDR not set")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisLocker(client)
}

// acquireRunLock reports whether this replica may run the tick. The returned
// release func is always safe to call.
func (s *Scheduler) acquireRunLock(ctx context.Context) (bool, func()) {
	if s.locker == nil {
		return true, func() {}
	}
	token, ok, err := s.locker.TryLock(ctx, runLockKey, s.cfg.RunLockTTL)
	if err != nil {
		s.log.Warn("scheduler run lock unavailable, skipping tick", zap.Error(err))
		return false, func() {}
	}
	if !ok {
		return false, func() {}
	}
	return true, func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, runLockKey, token); err != nil {
			s.log.Warn("failed to release scheduler run lock", zap.Error(err))
		}
	}
}
