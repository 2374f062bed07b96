// Package tokenstore defines the persistence contract for cached checkout
// session tokens. A Store is a small keyed cache: at most one Record per
// scope key, plus a single independent entry for user display preferences.
//
// Expiry handled here is advisory only. The issuing server remains the sole
// authority on whether a token is redeemable; a Store's TTL check exists to
// avoid pointless network calls and stale checkout URLs, never as a security
// boundary.
//
// Implementations
//
//	memory     : in-process cache for tests and single-process callers
//	file       : durable on-disk cache that survives process restarts
//	redisstore : Redis-backed cache for multi-process deployments
package tokenstore

import (
	"context"
	"time"
)

// DefaultTTL is the validity window shared by client and issuer. Tokens older
// than this are treated as stale without consulting the server.
const DefaultTTL = 5 * time.Minute

// Record is a cached session token together with the moment it was issued.
// It is replaced wholesale on each new issuance; there is no partial update.
type Record struct {
	Token     string
	CreatedAt time.Time
}

// Expired reports whether the record's age meets or exceeds ttl at the given
// instant.
func (r Record) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.CreatedAt) >= ttl
}

// Preferences are user display settings persisted alongside the token cache.
// They never expire and are unrelated to token validity.
type Preferences struct {
	Theme        string `json:"theme,omitempty"`
	FiatCurrency string `json:"fiatCurrency,omitempty"`
}

// Store is the persistence surface for session-token records. Absence of a
// record is a normal nil return, never an error; errors are reserved for
// genuine backend failures.
//
// Keys are opaque to the store. The caller derives them from the request
// scope so that a token minted for one set of addresses and assets is never
// served for another.
type Store interface {
	// Put unconditionally replaces any record stored under key.
	Put(ctx context.Context, key string, rec Record) error

	// Get returns the record stored under key if it is still within its TTL.
	// An expired record is deleted from the backing storage (lazy eviction)
	// and reported as absent.
	Get(ctx context.Context, key string) (*Record, error)

	// Clear deletes the record stored under key. Clearing an absent key is
	// not an error.
	Clear(ctx context.Context, key string) error

	// PutPreferences replaces the persisted display preferences.
	PutPreferences(ctx context.Context, prefs Preferences) error

	// GetPreferences returns the persisted display preferences, or nil when
	// none have been stored.
	GetPreferences(ctx context.Context) (*Preferences, error)

	// Close releases backend resources.
	Close() error
}
