package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "otp:"
	redisSeqKey    = "otp:seq"
	maxTxRetries   = 5
)

// RedisStore keeps entries as JSON values whose key TTL matches the entry expiry.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func redisKey(email string) string {
	return redisKeyPrefix + normalizeEmail(email)
}

func (s *RedisStore) Issue(ctx context.Context, email string, e Entry) (Entry, error) {
	seq, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("otp seq: %w", err)
	}
	e.Seq = uint64(seq)
	e.IssuedAt = s.now()
	e.ExpiresAt = e.IssuedAt.Add(s.ttl)

	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, err
	}
	if err := s.client.Set(ctx, redisKey(email), data, s.ttl).Err(); err != nil {
		return Entry{}, fmt.Errorf("store otp: %w", err)
	}
	return e, nil
}

func (s *RedisStore) Restore(ctx context.Context, email string, e Entry) (bool, error) {
	left := e.ExpiresAt.Sub(s.now())
	if left <= 0 {
		return false, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, redisKey(email), data, left).Result()
	if err != nil {
		return false, fmt.Errorf("restore otp: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) load(ctx context.Context, tx *redis.Tx, key string) (Entry, bool, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode otp: %w", err)
	}
	return e, true, nil
}

// watch runs fn in an optimistic transaction on key, retrying when the key changes underneath.
func (s *RedisStore) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

func (s *RedisStore) Consume(ctx context.Context, email, purpose, code string, now time.Time) (Entry, error) {
	key := redisKey(email)
	var (
		out    Entry
		result error
	)
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		e, ok, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if !ok {
			result = ErrInvalid
			return nil
		}
		purge, cerr := check(e, purpose, code, now)
		result = cerr
		if !purge {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			return nil
		})
		if err == nil && cerr == nil {
			out = e
		}
		return err
	})
	if err != nil {
		return Entry{}, fmt.Errorf("consume otp: %w", err)
	}
	if result != nil {
		return Entry{}, result
	}
	return out, nil
}

func (s *RedisStore) Withdraw(ctx context.Context, email string, seq uint64) (bool, error) {
	key := redisKey(email)
	removed := false
	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		e, ok, err := s.load(ctx, tx, key)
		if err != nil || !ok || e.Seq != seq {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			return nil
		})
		removed = err == nil
		return err
	})
	return removed, err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
