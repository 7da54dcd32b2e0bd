package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces idempotency keys in a shared redis.
const DefaultRedisPrefix = "idempotency:"

// redisClaimAttempts bounds retries when a key expires between SETNX and GET.
const redisClaimAttempts = 3

// redisRecord is the JSON value stored under each key.
type redisRecord struct {
	State       State             `json:"state"`
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body,omitempty"`
}

// RedisStore keeps records in redis so every gateway replica shares them.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisStore constructs a redis-backed store.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration, prefix string) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

// OpenRedis connects to the redis instance named by a redis:// or rediss://
// URL and verifies it answers.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Claim implements Store with SET NX so exactly one caller wins a key.
func (s *RedisStore) Claim(ctx context.Context, key, fingerprint string) (ClaimResult, error) {
	pending, err := json.Marshal(redisRecord{State: StatePending, Fingerprint: fingerprint})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("encode idempotency record: %w", err)
	}
	for range redisClaimAttempts {
		ok, err := s.client.SetNX(ctx, s.prefix+key, pending, s.ttl).Result()
		if err != nil {
			return ClaimResult{}, fmt.Errorf("claim idempotency key: %w", err)
		}
		if ok {
			return ClaimResult{Outcome: ClaimFresh}, nil
		}
		rec, found, err := s.load(ctx, key)
		if err != nil {
			return ClaimResult{}, err
		}
		if !found {
			// Expired between SETNX and GET; try to claim again.
			continue
		}
		if rec.State == StateCompleted {
			return ClaimResult{
				Outcome:     ClaimCompleted,
				Fingerprint: rec.Fingerprint,
				Response:    Response{Status: rec.Status, ContentType: rec.ContentType, Headers: rec.Headers, Body: rec.Body},
			}, nil
		}
		return ClaimResult{Outcome: ClaimPending, Fingerprint: rec.Fingerprint}, nil
	}
	return ClaimResult{}, fmt.Errorf("claim idempotency key %q: record kept expiring", key)
}

// Complete implements Store. SET XX KEEPTTL only overwrites a live record and
// keeps its original expiry.
func (s *RedisStore) Complete(ctx context.Context, key string, resp Response) error {
	rec, found, err := s.load(ctx, key)
	if err != nil || !found {
		return err
	}
	rec.State = StateCompleted
	rec.Status = resp.Status
	rec.ContentType = resp.ContentType
	rec.Headers = resp.Headers
	rec.Body = resp.Body
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	err = s.client.SetArgs(ctx, s.prefix+key, raw, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	rec, found, err := s.load(ctx, key)
	if err != nil || !found || rec.State != StatePending {
		return err
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// load reads and decodes one record.
func (s *RedisStore) load(ctx context.Context, key string) (redisRecord, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return redisRecord{}, false, nil
	}
	if err != nil {
		return redisRecord{}, false, fmt.Errorf("load idempotency key: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return redisRecord{}, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return rec, true, nil
}
