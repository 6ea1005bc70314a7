package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const convIndexKey = "memory:conv:index"

// RedisConversationStore keeps each conversation as a JSON value and
// indexes ids by last update time in a sorted set for stale sweeps.
type RedisConversationStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisConversationStore creates a store whose keys expire after ttl
// without updates. A zero ttl keeps keys until they are swept.
func NewRedisConversationStore(client redis.Cmdable, ttl time.Duration) *RedisConversationStore {
	return &RedisConversationStore{client: client, ttl: ttl}
}

func convKey(conversationID string) string {
	return fmt.Sprintf("memory:conv:%s", conversationID)
}

func (s *RedisConversationStore) Get(ctx context.Context, conversationID string) (*ConversationMemory, error) {
	key := convKey(conversationID)
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	var mem ConversationMemory
	if err := json.Unmarshal([]byte(val), &mem); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return &mem, nil
}

func (s *RedisConversationStore) Save(ctx context.Context, mem *ConversationMemory) error {
	key := convKey(mem.ConversationID)

	stored := *mem
	stored.LongTerm.BehaviorPatterns = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling memory: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, convIndexKey, redis.Z{
		Score:  float64(mem.Metadata.LastUpdatedAt.UnixMilli()),
		Member: mem.ConversationID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

func (s *RedisConversationStore) Delete(ctx context.Context, conversationID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, convKey(conversationID))
	pipe.ZRem(ctx, convIndexKey, conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting %s: %w", conversationID, err)
	}
	return nil
}

func (s *RedisConversationStore) ListIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, convIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", convIndexKey, err)
	}
	return ids, nil
}
