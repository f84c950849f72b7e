package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "resume_builder:lock:"

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// renewScript extends the key's expiry only if it still holds our token
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisConfig controls lock lifetime and polling
type RedisConfig struct {
	// TTL bounds how long a crashed holder can block others. A live holder renews it.
	TTL          time.Duration
	PollInterval time.Duration
	// RenewInterval defaults to a third of TTL
	RenewInterval time.Duration
}

// Redis is a Locker shared by every replica talking to the same Redis
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// ParseRedisURL connects to the Redis described by a redis:// URL and pings it
func ParseRedisURL(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opt.Addr, err)
	}
	return client, nil
}

// NewRedis returns a Locker backed by client
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.RenewInterval <= 0 || cfg.RenewInterval >= cfg.TTL {
		cfg.RenewInterval = cfg.TTL / 3
	}
	return &Redis{client: client, cfg: cfg}
}

// Lock polls SET NX until it wins or ctx is done. The key is renewed until release.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.cfg.TTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			go r.renew(stop, redisKey, token)
			return r.releaser(stop, redisKey, token), nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		}
	}
}

// renew pushes the expiry of a held key forward until stop is closed or the key is lost
func (r *Redis) renew(stop <-chan struct{}, redisKey, token string) {
	ticker := time.NewTicker(r.cfg.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RenewInterval)
		res, err := renewScript.Run(ctx, r.client, []string{redisKey}, token, r.cfg.TTL.Milliseconds()).Int64()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("key", redisKey).Msg("failed to renew lock")
			continue
		}
		if res == 0 {
			log.Warn().Str("key", redisKey).Msg("lock lost before release")
			return
		}
	}
}

func (r *Redis) releaser(stop chan struct{}, redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { r.release(stop, redisKey, token) })
	}
}

func (r *Redis) release(stop chan struct{}, redisKey, token string) {
	close(stop)
	// release even when the request context is already gone
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Int64()
	if err != nil {
		log.Warn().Err(err).Str("key", redisKey).Msg("failed to release lock")
		return
	}
	if res == 0 {
		log.Warn().Str("key", redisKey).Msg("lock expired before release")
	}
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}
