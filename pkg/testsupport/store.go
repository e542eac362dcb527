package testsupport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Call records one store operation.
type Call struct {
	Method string
	Key    string
	TTL    time.Duration
}

type storedEntry struct {
	value     any
	ttl       time.Duration
	expiresAt time.Time
	forever   bool
}

// Store is an in-memory store that records every call and runs on a
// simulated clock. It satisfies cache.Store.
type Store struct {
	mu      sync.Mutex
	now     time.Time
	entries map[string]storedEntry
	calls   []Call
	getErr  error
	putErr  error
}

// NewStore returns an empty recording store.
func NewStore() *Store {
	return &Store{
		now:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		entries: make(map[string]storedEntry),
	}
}

func (s *Store) record(method, key string, ttl time.Duration) {
	s.calls = append(s.calls, Call{Method: method, Key: key, TTL: ttl})
}

// Get returns the live entry for key.
func (s *Store) Get(_ context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Get", key, 0)

	if s.getErr != nil {
		return nil, false, s.getErr
	}

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.forever && !s.now.Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Put stores value for ttl.
func (s *Store) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Put", key, ttl)

	if s.putErr != nil {
		return s.putErr
	}
	s.entries[key] = storedEntry{value: value, ttl: ttl, expiresAt: s.now.Add(ttl)}
	return nil
}

// PutForever stores value without expiration.
func (s *Store) PutForever(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("PutForever", key, 0)

	if s.putErr != nil {
		return s.putErr
	}
	s.entries[key] = storedEntry{value: value, forever: true}
	return nil
}

// Seed stores value without recording a call, to simulate a pre-populated cache.
func (s *Store) Seed(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = storedEntry{value: value, forever: true}
}

// Advance moves the simulated clock forward.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

// FailGets makes every subsequent Get return err. Nil restores normal behaviour.
func (s *Store) FailGets(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// FailPuts makes every subsequent Put and PutForever return err.
func (s *Store) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// Entry reports the raw stored value and how it was written, ignoring expiry.
func (s *Store) Entry(key string) (value any, ttl time.Duration, forever bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e.value, e.ttl, e.forever, ok
}

// Keys returns the number of stored entries.
func (s *Store) Keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Calls returns a copy of the recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Producer returns a fixed result and counts invocations.
type Producer[T any] struct {
	value T
	err   error
	calls atomic.Int64
}

// NewProducer returns a producer yielding value and err.
func NewProducer[T any](value T, err error) *Producer[T] {
	return &Producer[T]{value: value, err: err}
}

// Produce matches cache.Producer.
func (p *Producer[T]) Produce(context.Context) (T, error) {
	p.calls.Add(1)
	return p.value, p.err
}

// Calls reports how many times Produce ran.
func (p *Producer[T]) Calls() int {
	return int(p.calls.Load())
}
