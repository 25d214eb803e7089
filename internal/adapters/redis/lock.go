package redisad

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// PassLock is a single-holder lock with a TTL so a crashed holder cannot
// wedge future passes.
type PassLock struct {
	c   *redis.Client
	key string
}

func NewPassLock(c *redis.Client, key string) *PassLock {
	if key == "" {
		key = "sync:pass:lock"
	}
	return &PassLock{c: c, key: key}
}

func (l *PassLock) TryLock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, false, fmt.Errorf("lock token: %w", err)
	}
	token := hex.EncodeToString(b[:])

	ok, err := l.c.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// the caller's ctx may already be done when the pass ends
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.c, []string{l.key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", l.key).Msg("release pass lock failed")
		}
	}
	return release, true, nil
}
