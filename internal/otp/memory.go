package otp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memEntry struct {
	entry Entry
	timer *time.Timer
}

// MemoryStore keeps entries in process memory. Each entry arms a single runtime timer that
// removes it at expiry if it is still the same issuance.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	seq     uint64
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
}

type Option func(*MemoryStore)

// WithClock replaces time.Now for issue timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *MemoryStore) { s.log = log }
}

func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memEntry),
		ttl:     ttl,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Issue(_ context.Context, email string, e Entry) (Entry, error) {
	key := normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[key]; ok {
		prev.timer.Stop()
	}
	s.seq++
	e.Seq = s.seq
	e.IssuedAt = s.now()
	e.ExpiresAt = e.IssuedAt.Add(s.ttl)

	seq := e.Seq
	s.entries[key] = &memEntry{
		entry: e,
		timer: time.AfterFunc(s.ttl, func() { s.expire(key, seq) }),
	}
	return e, nil
}

func (s *MemoryStore) expire(key string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[key]
	if !ok || cur.entry.Seq != seq {
		return
	}
	delete(s.entries, key)
	s.log.Debug("otp expired", zap.String("email", key), zap.Uint64("seq", seq))
}

func (s *MemoryStore) Consume(_ context.Context, email, purpose, code string, now time.Time) (Entry, error) {
	key := normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrInvalid
	}
	purge, err := check(cur.entry, purpose, code, now)
	if purge {
		cur.timer.Stop()
		delete(s.entries, key)
	}
	if err != nil {
		return Entry{}, err
	}
	return cur.entry, nil
}

func (s *MemoryStore) Withdraw(_ context.Context, email string, seq uint64) (bool, error) {
	key := normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[key]
	if !ok || cur.entry.Seq != seq {
		return false, nil
	}
	cur.timer.Stop()
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) Restore(_ context.Context, email string, e Entry) (bool, error) {
	key := normalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	left := e.ExpiresAt.Sub(s.now())
	if left <= 0 {
		return false, nil
	}
	seq := e.Seq
	s.entries[key] = &memEntry{
		entry: e,
		timer: time.AfterFunc(left, func() { s.expire(key, seq) }),
	}
	return true, nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, k)
	}
	return nil
}
