package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stampscore/stampscore/internal/domain"
)

// ─── Redis ──────────────────────────────────────────────────────────────────

// releaseScript deletes the key only while it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig tunes the Redis locker.
type RedisConfig struct {
	Prefix       string        // key prefix, e.g. "stampscore:lease:"
	TTL          time.Duration // lease lifetime if the holder never releases
	Timeout      time.Duration // how long Acquire polls before ErrContention
	PollInterval time.Duration
}

// DefaultRedisConfig returns sane defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix:       "stampscore:lease:",
		TTL:          30 * time.Second,
		Timeout:      10 * time.Second,
		PollInterval: 25 * time.Millisecond,
	}
}

// Redis grants leases with SET NX PX and releases them with a
// compare-and-delete script.
type Redis struct {
	rdb goredis.UniversalClient
	cfg RedisConfig
}

// NewRedis wraps an existing client.
func NewRedis(rdb goredis.UniversalClient, cfg RedisConfig) *Redis {
	def := DefaultRedisConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Redis{rdb: rdb, cfg: cfg}
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", domain.ErrInfrastructure, err)
	}
	return rdb, nil
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := r.cfg.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.cfg.Timeout)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: redis lease %q: %w", domain.ErrInfrastructure, key, err)
		}
		if ok {
			return r.releaser(k, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: lease %q still held after %s", domain.ErrContention, key, r.cfg.Timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaser(k, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Fresh context: a cancelled caller must still free the key.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.rdb, []string{k}, token).Err()
		})
	}
}
