package bucketcache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient captures the subset of redis.Client used by the durable store.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Each bucket maps to one redis hash so ListAll is a single HGETALL and Clear
// a single DEL. Per-field TTLs do not exist in redis hashes, so the absolute
// expiry rides in a fixed header in front of the payload.
var durableValueMagic = []byte("BKD1")

const defaultRedisPrefix = "bucketcache"

// RedisDurableConfig configures the redis persistence backend.
type RedisDurableConfig struct {
	Client RedisClient
	Prefix string
}

type redisDurableStore struct {
	client RedisClient
	prefix string
}

// NewRedisDurableStore builds a redis-backed DurableStore. The client is
// required for real operations; a nil client makes every call fail.
func NewRedisDurableStore(cfg RedisDurableConfig) DurableStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisDurableStore{client: cfg.Client, prefix: prefix}
}

func (s *redisDurableStore) Put(ctx context.Context, bucket, identifier string, payload []byte, expiresAt time.Time) error {
	if s.client == nil {
		return errors.New("bucketcache: redis client unavailable")
	}
	return s.client.HSet(ctx, s.hashKey(bucket), identifier, encodeDurableValue(payload, expiresAt)).Err()
}

func (s *redisDurableStore) Get(ctx context.Context, bucket, identifier string) (DurableRecord, bool, error) {
	if s.client == nil {
		return DurableRecord{}, false, errors.New("bucketcache: redis client unavailable")
	}
	raw, err := s.client.HGet(ctx, s.hashKey(bucket), identifier).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return DurableRecord{}, false, nil
		}
		return DurableRecord{}, false, err
	}
	payload, expiresAt, err := decodeDurableValue(raw)
	if err != nil {
		return DurableRecord{}, false, err
	}
	return DurableRecord{Identifier: identifier, Payload: payload, ExpiresAt: expiresAt}, true, nil
}

func (s *redisDurableStore) Delete(ctx context.Context, bucket, identifier string) error {
	if s.client == nil {
		return errors.New("bucketcache: redis client unavailable")
	}
	return s.client.HDel(ctx, s.hashKey(bucket), identifier).Err()
}

func (s *redisDurableStore) Clear(ctx context.Context, bucket string) error {
	if s.client == nil {
		return errors.New("bucketcache: redis client unavailable")
	}
	return s.client.Del(ctx, s.hashKey(bucket)).Err()
}

func (s *redisDurableStore) ListAll(ctx context.Context, bucket string) ([]DurableRecord, error) {
	if s.client == nil {
		return nil, errors.New("bucketcache: redis client unavailable")
	}
	fields, err := s.client.HGetAll(ctx, s.hashKey(bucket)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]DurableRecord, 0, len(fields))
	for identifier, raw := range fields {
		payload, expiresAt, err := decodeDurableValue([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("bucket %q identifier %q: %w", bucket, identifier, err)
		}
		records = append(records, DurableRecord{Identifier: identifier, Payload: payload, ExpiresAt: expiresAt})
	}
	return records, nil
}

func (s *redisDurableStore) hashKey(bucket string) string {
	return s.prefix + ":" + bucket
}

func encodeDurableValue(payload []byte, expiresAt time.Time) []byte {
	out := make([]byte, 0, len(durableValueMagic)+8+len(payload))
	out = append(out, durableValueMagic...)
	var ea [8]byte
	binary.BigEndian.PutUint64(ea[:], uint64(expiresAt.UnixMilli()))
	out = append(out, ea[:]...)
	out = append(out, payload...)
	return out
}

func decodeDurableValue(raw []byte) ([]byte, time.Time, error) {
	header := len(durableValueMagic) + 8
	if len(raw) < header || !bytes.Equal(raw[:len(durableValueMagic)], durableValueMagic) {
		return nil, time.Time{}, fmt.Errorf("%w: missing durable value header", ErrCorruptPayload)
	}
	millis := int64(binary.BigEndian.Uint64(raw[len(durableValueMagic) : len(durableValueMagic)+8]))
	return cloneBytes(raw[header:]), time.UnixMilli(millis), nil
}
