package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var lockReleaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
-- Delete only if we still own the lock (it may have expired and been re-acquired).
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// SessionLock is a distributed per-session mutex used to serialize finalize
// runs across API replicas. The DB row lock is the correctness guarantee; this
// lock keeps a second replica from even starting the (long) merge work.
//
// Safety properties:
// - SET NX PX acquire; TTL prevents leaked locks on process crash.
// - Release is owner-checked via Lua, so an expired-and-stolen lock is never
//   deleted by the original holder.
type SessionLock struct {
	rdb *redis.Client
	ttl time.Duration

	// pollInterval controls how often a blocked Acquire retries.
	pollInterval time.Duration
}

func NewSessionLock(rdb *redis.Client, ttl time.Duration) *SessionLock {
	if ttl <= 0 {
		ttl = 16 * time.Minute
	}
	return &SessionLock{rdb: rdb, ttl: ttl, pollInterval: 250 * time.Millisecond}
}

func lockKey(sessionID string) string {
	return "vcall:finalize-lock:" + sessionID
}

// Acquire blocks until the session lock is held or ctx is done. It returns an
// owner token that must be passed to Release.
func (l *SessionLock) Acquire(ctx context.Context, sessionID string) (string, error) {
	if l.rdb == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}

	owner := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, lockKey(sessionID), owner, l.ttl).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return owner, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// Release frees the lock if still owned by the given token.
func (l *SessionLock) Release(ctx context.Context, sessionID, owner string) error {
	if l.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	_, err := lockReleaseScript.Run(ctx, l.rdb, []string{lockKey(sessionID)}, owner).Result()
	return err
}
