package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/guard"
)

// release deletes the key only while it still holds the token of the caller.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// InFlightStore is a guard.Guard shared by every process using the same redis.
// Keys expire after ttl so a crashed holder does not block the action forever.
type InFlightStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ guard.Guard = (*InFlightStore)(nil)

func NewInFlightStore(rdb *redis.Client, ttl time.Duration) *InFlightStore {
	return &InFlightStore{rdb: rdb, ttl: ttl}
}

// Acquire stores a fresh token under key. If redis is unreachable the request is allowed.
func (s *InFlightStore) Acquire(ctx context.Context, key string) (string, bool) {
	token := guard.NewToken()

	ok, err := s.rdb.SetNX(ctx, key, token, s.ttl).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("inflight acquire failed, allowing request")
		return token, true
	}

	return token, ok
}

// Release frees key unless it expired and was acquired by another holder since.
func (s *InFlightStore) Release(ctx context.Context, key, token string) {
	n, err := release.Run(ctx, s.rdb, []string{key}, token).Int()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("inflight release failed")
		return
	}

	if n == 0 {
		log.Debug().Str("key", key).Msg("inflight key was no longer held")
	}
}

func (s *InFlightStore) IsInFlight(ctx context.Context, key string) bool {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false
	}

	return n > 0
}
