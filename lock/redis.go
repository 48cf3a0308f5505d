package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL        = 10 * time.Second
	defaultRetryEvery = 25 * time.Millisecond
	defaultPrefix     = "token-engine:lock:"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOptions configures a Redis lock.
type RedisOptions struct {
	// TTL is how long a held lock survives a crashed holder.
	TTL time.Duration
	// RetryEvery is the polling interval while the key is held elsewhere.
	RetryEvery time.Duration
	Prefix     string
}

// Redis is a distributed per-key lock using SET NX PX.
type Redis struct {
	client     redis.Cmdable
	ttl        time.Duration
	retryEvery time.Duration
	prefix     string
}

// NewRedis builds a lock over client.
func NewRedis(client redis.Cmdable, opts RedisOptions) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = defaultRetryEvery
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	return &Redis{client: client, ttl: opts.TTL, retryEvery: opts.RetryEvery, prefix: opts.Prefix}
}

// Lock polls until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retryEvery)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return r.unlocker(k, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Redis) unlocker(k, token string) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		// The caller's context may already be cancelled; release regardless.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// On failure the key simply expires after the TTL.
		_ = releaseScript.Run(ctx, r.client, []string{k}, token).Err()
	}
}
