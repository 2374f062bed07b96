// Package redisstore provides a Redis-backed implementation of the
// tokenstore contract for deployments where several processes share one
// token cache. Redis server-side expiry acts as a backstop for the client's
// own TTL check.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/Must-be-Ash/onramp-go/tokenstore"
)

// Config for a Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// Client is an existing Redis client to use. When nil, a client is
	// dialed from RedisAddr.
	Client *redis.Client

	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`

	// KeyPrefix for all keys. ENV: ONRAMP_CACHE_KEY_PREFIX
	KeyPrefix string `env:"ONRAMP_CACHE_KEY_PREFIX,default=onramp:session:"`

	// TTL is the token validity window. ENV: ONRAMP_TOKEN_TTL
	TTL time.Duration `env:"ONRAMP_TOKEN_TTL,default=5m"`
}

// Store implements tokenstore.Store over Redis.
type Store struct {
	client    *redis.Client
	ownClient bool
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// storedRecord is the JSON shape stored in Redis, matching the on-disk cache
// layout: token value plus a string-encoded millisecond timestamp.
type storedRecord struct {
	SessionToken string `json:"sessionToken"`
	CreatedAt    string `json:"createdAt"`
}

func New(cfg Config) (*Store, error) {
	s := &Store{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		now:       time.Now,
	}
	if s.keyPrefix == "" {
		s.keyPrefix = "onramp:session:"
	}
	if s.ttl <= 0 {
		s.ttl = tokenstore.DefaultTTL
	}
	if s.client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		cl := redis.NewClient(&redis.Options{Addr: addr})
		if err := cl.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s.client = cl
		s.ownClient = true
	}
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (s *Store) tokenKey(key string) string { return s.keyPrefix + "token:" + key }
func (s *Store) prefsKey() string           { return s.keyPrefix + "preferences" }

func (s *Store) Put(ctx context.Context, key string, rec tokenstore.Record) error {
	data, err := json.Marshal(storedRecord{
		SessionToken: rec.Token,
		CreatedAt:    strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
	})
	if err != nil {
		return fmt.Errorf("encode token record: %w", err)
	}
	if err := s.client.Set(ctx, s.tokenKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store token record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*tokenstore.Record, error) {
	val, err := s.client.Get(ctx, s.tokenKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token record: %w", err)
	}

	var sr storedRecord
	if err := json.Unmarshal([]byte(val), &sr); err != nil {
		return nil, fmt.Errorf("decode token record: %w", err)
	}
	millis, err := strconv.ParseInt(sr.CreatedAt, 10, 64)
	if err != nil {
		// Unparseable timestamp: drop the entry.
		_ = s.client.Del(ctx, s.tokenKey(key)).Err()
		return nil, nil
	}

	rec := tokenstore.Record{Token: sr.SessionToken, CreatedAt: time.UnixMilli(millis)}
	if rec.Expired(s.now(), s.ttl) {
		if err := s.client.Del(ctx, s.tokenKey(key)).Err(); err != nil {
			return nil, fmt.Errorf("evict expired record: %w", err)
		}
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.tokenKey(key)).Err(); err != nil {
		return fmt.Errorf("clear token record: %w", err)
	}
	return nil
}

func (s *Store) PutPreferences(ctx context.Context, prefs tokenstore.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := s.client.Set(ctx, s.prefsKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("store preferences: %w", err)
	}
	return nil
}

func (s *Store) GetPreferences(ctx context.Context) (*tokenstore.Preferences, error) {
	val, err := s.client.Get(ctx, s.prefsKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	var prefs tokenstore.Preferences
	if err := json.Unmarshal([]byte(val), &prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return &prefs, nil
}

// Close closes the Redis client when this store dialed it.
func (s *Store) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
