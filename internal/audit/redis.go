package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aomi-labs/delta-rfq-arena/pkg/rfq"
)

const redisKeyPrefix = "rfq:receipts:"

// RedisStore archives receipts as a per-quote Redis list of JSON blobs, so
// the audit trail survives engine restarts. RPUSH/LRANGE preserve append
// order.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Append(ctx context.Context, receipt *rfq.Receipt) error {
	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	key := redisKeyPrefix + receipt.QuoteID.String()
	if err := s.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("append receipt: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, quoteID uuid.UUID) ([]*rfq.Receipt, error) {
	key := redisKeyPrefix + quoteID.String()
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	receipts := make([]*rfq.Receipt, 0, len(raw))
	for _, item := range raw {
		var r rfq.Receipt
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode receipt: %w", err)
		}
		receipts = append(receipts, &r)
	}
	return receipts, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
