// Package file provides a durable on-disk implementation of the tokenstore
// contract. Records survive process restarts, and a filesystem watcher keeps
// the in-memory snapshot honest when another process rewrites the cache file,
// so cooperating CLIs sharing one cache path observe each other's tokens.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Must-be-Ash/onramp-go/tokenstore"
)

// Store implements tokenstore.Store on a single JSON file.
type Store struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	tokens  map[string]diskRecord
	prefs   *tokenstore.Preferences
	loaded    bool
	stale     atomic.Bool
	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// diskRecord is the on-disk shape of a cached token. The creation timestamp
// is a string-encoded integer of milliseconds since the epoch.
type diskRecord struct {
	SessionToken string `json:"sessionToken"`
	CreatedAt    string `json:"createdAt"`
}

type diskLayout struct {
	Tokens      map[string]diskRecord   `json:"tokens,omitempty"`
	Preferences *tokenstore.Preferences `json:"preferences,omitempty"`
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

// New creates a file-backed store at path, creating parent directories as
// needed. An existing cache file is picked up as-is.
func New(path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	s := &Store{
		path:   abs,
		ttl:    tokenstore.DefaultTTL,
		now:    time.Now,
		tokens: make(map[string]diskRecord),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.startWatcher()
	return s, nil
}

// startWatcher watches the cache file's directory so that rewrites by other
// processes invalidate the snapshot. The watcher is best-effort: when it
// cannot be created the store falls back to reloading on every read.
func (s *Store) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("tokenstore.file.watch.unavailable", slog.String("err", err.Error()))
		return
	}
	// Watch the directory, not the file: atomic renames replace the inode.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		slog.Debug("tokenstore.file.watch.add_failed", slog.String("err", err.Error()))
		_ = w.Close()
		return
	}
	s.watcher = w

	go func() {
		for {
			select {
			case <-s.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					s.stale.Store(true)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
				// Watch errors degrade to reload-on-read.
				s.stale.Store(true)
			}
		}
	}()
}

// reloadLocked reads the cache file into the snapshot. Caller holds s.mu.
func (s *Store) reloadLocked() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.tokens = make(map[string]diskRecord)
		s.prefs = nil
		s.loaded = true
		s.stale.Store(false)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache file: %w", err)
	}

	var layout diskLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		// The cache is advisory; a mangled file is equivalent to an empty one.
		slog.Warn("tokenstore.file.corrupt", slog.String("path", s.path), slog.String("err", err.Error()))
		layout = diskLayout{}
	}
	s.tokens = layout.Tokens
	if s.tokens == nil {
		s.tokens = make(map[string]diskRecord)
	}
	s.prefs = layout.Preferences
	s.loaded = true
	s.stale.Store(false)
	return nil
}

func (s *Store) ensureFreshLocked() error {
	// Without a watcher every read reloads; with one, only after a change.
	if s.loaded && s.watcher != nil && !s.stale.Load() {
		return nil
	}
	return s.reloadLocked()
}

// persistLocked writes the snapshot to disk via rename for atomicity.
// Caller holds s.mu.
func (s *Store) persistLocked() error {
	layout := diskLayout{Preferences: s.prefs}
	if len(s.tokens) > 0 {
		layout.Tokens = s.tokens
	}
	data, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".onramp-cache-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, rec tokenstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFreshLocked(); err != nil {
		return err
	}
	s.tokens[key] = diskRecord{
		SessionToken: rec.Token,
		CreatedAt:    strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
	}
	return s.persistLocked()
}

func (s *Store) Get(ctx context.Context, key string) (*tokenstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFreshLocked(); err != nil {
		return nil, err
	}

	dr, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	millis, err := strconv.ParseInt(dr.CreatedAt, 10, 64)
	if err != nil {
		// Unparseable timestamp: treat the entry as stale and drop it.
		delete(s.tokens, key)
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	rec := tokenstore.Record{Token: dr.SessionToken, CreatedAt: time.UnixMilli(millis)}
	if rec.Expired(s.now(), s.ttl) {
		delete(s.tokens, key)
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFreshLocked(); err != nil {
		return err
	}
	if _, ok := s.tokens[key]; !ok {
		return nil
	}
	delete(s.tokens, key)
	return s.persistLocked()
}

func (s *Store) PutPreferences(ctx context.Context, prefs tokenstore.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFreshLocked(); err != nil {
		return err
	}
	s.prefs = &prefs
	return s.persistLocked()
}

func (s *Store) GetPreferences(ctx context.Context) (*tokenstore.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureFreshLocked(); err != nil {
		return nil, err
	}
	if s.prefs == nil {
		return nil, nil
	}
	out := *s.prefs
	return &out, nil
}

// Close stops the filesystem watcher. Idempotent. The cache file is left in
// place.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
