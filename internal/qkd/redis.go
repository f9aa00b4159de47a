package qkd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
)

// Redis key layout.
const (
	redisSessionPrefix = "qkd:session:" // qkd:session:{sender}-{receiver}
	redisSeqKey        = "qkd:seq"      // exchange id counter
)

// RedisStore is a Store shared by every process behind the same Redis.
// Expiry is enforced by Redis (SET ... EX).
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store whose entries live for ttl.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Create implements Store with SET NX.
func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	id, err := r.rdb.Incr(ctx, redisSeqKey).Uint64()
	if err != nil {
		return fmt.Errorf("next exchange id: %w", err)
	}
	s.ID = id
	s.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := r.rdb.SetNX(ctx, redisSessionPrefix+s.Key(), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return errs.ErrExchangeInFlight
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, sender, receiver string) (*Session, error) {
	data, err := r.rdb.Get(ctx, redisSessionPrefix+SessionKey(sender, receiver)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNoExchange
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// updateScript replaces the session only while it still belongs to the
// exchange ARGV[2], keeping the remaining TTL.
var updateScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
if cjson.decode(cur).id ~= tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
return 1
`)

// Update implements Store. A session replaced by a newer exchange for the
// same pair is reported as ErrNoExchange.
func (r *RedisStore) Update(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	n, err := updateScript.Run(ctx, r.rdb, []string{redisSessionPrefix + s.Key()}, data, s.ID).Int()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return errs.ErrNoExchange
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, sender, receiver string) error {
	return r.rdb.Del(ctx, redisSessionPrefix+SessionKey(sender, receiver)).Err()
}
