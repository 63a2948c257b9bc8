package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore shares keys across replicas. Reservations use SET NX so exactly one request wins a key.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(pendingRecord(fingerprint, now.Add(ttl)))
	if err != nil {
		return OutcomeNew, Record{}, err
	}
	won, err := s.client.SetNX(ctx, redisKeyPrefix+key, payload, ttl).Result()
	if err != nil {
		return OutcomeNew, Record{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if won {
		return OutcomeNew, Record{}, nil
	}

	rec, err := s.load(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The holder released or the key expired between SETNX and GET; let the caller retry.
		return OutcomeInFlight, Record{}, nil
	}
	if err != nil {
		return OutcomeNew, Record{}, err
	}
	outcome, err := classify(rec, fingerprint)
	return outcome, rec, err
}

// Complete overwrites the reservation under WATCH so a concurrent reuse of the key with another
// fingerprint is not clobbered.
func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(completedRecord(fingerprint, resp, now.Add(ttl)))
	if err != nil {
		return err
	}
	full := redisKeyPrefix + key
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, full).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("idempotency: complete: %w", err)
		}
		if err == nil {
			var existing Record
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("idempotency: decode record: %w", err)
			}
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, payload, ttl)
			return nil
		})
		return err
	}, full)
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (s *RedisStore) load(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return rec, nil
}
