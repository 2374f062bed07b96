// Package memory provides an in-process implementation of the tokenstore
// contract backed by github.com/hashicorp/golang-lru/v2. Suitable for tests
// and single-process callers; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Must-be-Ash/onramp-go/tokenstore"
)

// Store implements tokenstore.Store using an in-memory LRU cache.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, tokenstore.Record]
	prefs *tokenstore.Preferences
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the default token validity window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an in-memory store holding at most maxEntries token records.
func New(maxEntries int, opts ...Option) (*Store, error) {
	cache, err := lru.New[string, tokenstore.Record](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	s := &Store{
		cache: cache,
		ttl:   tokenstore.DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Put(ctx context.Context, key string, rec tokenstore.Record) error {
	s.mu.Lock()
	s.cache.Add(key, rec)
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*tokenstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	if rec.Expired(s.now(), s.ttl) {
		s.cache.Remove(key)
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *Store) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

func (s *Store) PutPreferences(ctx context.Context, prefs tokenstore.Preferences) error {
	s.mu.Lock()
	s.prefs = &prefs
	s.mu.Unlock()
	return nil
}

func (s *Store) GetPreferences(ctx context.Context) (*tokenstore.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == nil {
		return nil, nil
	}
	out := *s.prefs
	return &out, nil
}

// Close purges the cache.
func (s *Store) Close() error {
	s.mu.Lock()
	s.cache.Purge()
	s.prefs = nil
	s.mu.Unlock()
	return nil
}
