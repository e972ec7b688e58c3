package otp

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testPurpose = "signup"

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.GreaterOrEqual(t, code, "100000")
		assert.LessOrEqual(t, code, "999999")
	}
}

func TestMemoryStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10*time.Minute, WithLogger(zaptest.NewLogger(t)))
	defer s.Close()

	e, err := s.Issue(ctx, "A@B.com", Entry{Code: "123456", Purpose: testPurpose})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Seq)
	assert.Equal(t, 10*time.Minute, e.ExpiresAt.Sub(e.IssuedAt))

	_, err = s.Consume(ctx, "a@b.com", testPurpose, "000000", time.Now())
	require.ErrorIs(t, err, ErrInvalid)
	_, err = s.Consume(ctx, "a@b.com", "reset", "123456", time.Now())
	require.ErrorIs(t, err, ErrInvalid)

	got, err := s.Consume(ctx, "a@b.com", testPurpose, "123456", time.Now())
	require.NoError(t, err)
	assert.Equal(t, e.Seq, got.Seq)

	_, err = s.Consume(ctx, "a@b.com", testPurpose, "123456", time.Now())
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_ReissueInvalidatesPrevious(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10 * time.Minute)
	defer s.Close()

	_, err := s.Issue(ctx, "a@b.com", Entry{Code: "111111", Purpose: testPurpose})
	require.NoError(t, err)
	_, err = s.Issue(ctx, "a@b.com", Entry{Code: "222222", Purpose: testPurpose})
	require.NoError(t, err)

	_, err = s.Consume(ctx, "a@b.com", testPurpose, "111111", time.Now())
	require.ErrorIs(t, err, ErrInvalid)
	_, err = s.Consume(ctx, "a@b.com", testPurpose, "222222", time.Now())
	require.NoError(t, err)
}

func TestMemoryStore_PassiveExpiry(t *testing.T) {
	ctx := context.Background()
	issued := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s := NewMemoryStore(10*time.Minute, WithClock(func() time.Time { return issued }))
	defer s.Close()

	_, err := s.Issue(ctx, "a@b.com", Entry{Code: "123456", Purpose: testPurpose})
	require.NoError(t, err)

	_, err = s.Consume(ctx, "a@b.com", testPurpose, "123456", issued.Add(11*time.Minute))
	require.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 0, s.Len(), "expired entry is purged")
}

func TestMemoryStore_ActiveExpiry(t *testing.T) {
	s := NewMemoryStore(20 * time.Millisecond)
	defer s.Close()

	_, err := s.Issue(context.Background(), "a@b.com", Entry{Code: "123456", Purpose: testPurpose})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_StaleCleanupKeepsNewIssuance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10 * time.Minute)
	defer s.Close()

	first, err := s.Issue(ctx, "a@b.com", Entry{Code: "111111", Purpose: testPurpose})
	require.NoError(t, err)
	second, err := s.Issue(ctx, "a@b.com", Entry{Code: "222222", Purpose: testPurpose})
	require.NoError(t, err)

	// A timer or withdraw belonging to the first issuance fires late.
	s.expire(normalizeEmail("a@b.com"), first.Seq)
	removed, err := s.Withdraw(ctx, "a@b.com", first.Seq)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1, s.Len())

	removed, err = s.Withdraw(ctx, "a@b.com", second.Seq)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_Restore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s := NewMemoryStore(10*time.Minute, WithClock(func() time.Time { return now }))
	defer s.Close()

	e, err := s.Issue(ctx, "a@b.com", Entry{Code: "123456", Purpose: testPurpose})
	require.NoError(t, err)
	consumed, err := s.Consume(ctx, "a@b.com", testPurpose, "123456", now)
	require.NoError(t, err)

	ok, err := s.Restore(ctx, "a@b.com", consumed)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := s.Consume(ctx, "a@b.com", testPurpose, "123456", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, e.Seq, got.Seq)
	assert.Equal(t, e.ExpiresAt, got.ExpiresAt)

	// A newer issuance wins over a restore.
	_, err = s.Issue(ctx, "a@b.com", Entry{Code: "654321", Purpose: testPurpose})
	require.NoError(t, err)
	ok, err = s.Restore(ctx, "a@b.com", consumed)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Consume(ctx, "a@b.com", testPurpose, "654321", now)
	require.NoError(t, err)

	// An expired entry is not brought back.
	now = now.Add(11 * time.Minute)
	ok, err = s.Restore(ctx, "a@b.com", consumed)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10 * time.Minute)
	defer s.Close()
	_, err := s.Issue(ctx, "a@b.com", Entry{Code: "123456", Purpose: testPurpose})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, "a@b.com", testPurpose, "123456", time.Now()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(ctx).Err())
	s := NewRedisStore(client, time.Minute)
	defer s.Close()

	email := "redis-test-" + time.Now().Format("150405.000000") + "@b.com"
	first, err := s.Issue(ctx, email, Entry{Code: "111111", Purpose: testPurpose, Pending: &PendingUser{Name: "A"}})
	require.NoError(t, err)
	second, err := s.Issue(ctx, email, Entry{Code: "222222", Purpose: testPurpose, Pending: &PendingUser{Name: "A"}})
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	removed, err := s.Withdraw(ctx, email, first.Seq)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.Consume(ctx, email, testPurpose, "111111", time.Now())
	require.ErrorIs(t, err, ErrInvalid)
	_, err = s.Consume(ctx, email, testPurpose, "222222", time.Now().Add(2*time.Minute))
	require.ErrorIs(t, err, ErrExpired)
	_, err = s.Consume(ctx, email, testPurpose, "222222", time.Now())
	require.ErrorIs(t, err, ErrInvalid)

	_, err = s.Issue(ctx, email, Entry{Code: "333333", Purpose: testPurpose, Pending: &PendingUser{Name: "A"}})
	require.NoError(t, err)
	got, err := s.Consume(ctx, email, testPurpose, "333333", time.Now())
	require.NoError(t, err)
	require.NotNil(t, got.Pending)
	assert.Equal(t, "A", got.Pending.Name)
}
