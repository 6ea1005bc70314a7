package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionIndexKey = "session:index"

// RedisStore keeps each session as a JSON value, indexed by last activity
// in a sorted set so inactive sessions can be swept.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore creates a store whose keys expire after ttl without activity.
// The ttl should exceed the sweep's max idle so the sweep sees sessions first.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(conversationID string) string {
	return fmt.Sprintf("session:%s", conversationID)
}

func (r *RedisStore) Get(ctx context.Context, conversationID string) (*Session, error) {
	key := sessionKey(conversationID)
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	key := sessionKey(s.ConversationID)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, r.ttl)
	pipe.ZAdd(ctx, sessionIndexKey, redis.Z{
		Score:  float64(s.LastActivityAt.UnixMilli()),
		Member: s.ConversationID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, conversationID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(conversationID))
	pipe.ZRem(ctx, sessionIndexKey, conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session %s: %w", conversationID, err)
	}
	return nil
}

func (r *RedisStore) ListIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, sessionIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", sessionIndexKey, err)
	}
	return ids, nil
}
