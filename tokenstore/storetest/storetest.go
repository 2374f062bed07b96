// Package storetest provides a conformance suite run against every
// tokenstore.Store implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/Must-be-Ash/onramp-go/tokenstore"
)

// Factory builds a fresh, empty store with the given token TTL. The returned
// store is closed by the suite.
type Factory func(t *testing.T, ttl time.Duration) tokenstore.Store

// Run exercises the tokenstore.Store contract against the given factory.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("GetAbsent", func(t *testing.T) {
		s := newStore(t, tokenstore.DefaultTTL)
		defer s.Close()

		rec, err := s.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if rec != nil {
			t.Fatalf("Get() on empty store returned %+v, want nil", rec)
		}
	})

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t, tokenstore.DefaultTTL)
		defer s.Close()

		want := tokenstore.Record{Token: "tok-1", CreatedAt: time.Now()}
		if err := s.Put(ctx, "k1", want); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		got, err := s.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got == nil {
			t.Fatal("Get() returned nil after Put()")
		}
		if got.Token != want.Token {
			t.Fatalf("Get() token = %q, want %q", got.Token, want.Token)
		}
	})

	t.Run("PutReplacesWholesale", func(t *testing.T) {
		s := newStore(t, tokenstore.DefaultTTL)
		defer s.Close()

		if err := s.Put(ctx, "k1", tokenstore.Record{Token: "old", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		if err := s.Put(ctx, "k1", tokenstore.Record{Token: "new", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		got, err := s.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got == nil || got.Token != "new" {
			t.Fatalf("Get() = %+v, want token %q", got, "new")
		}
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		s := newStore(t, tokenstore.DefaultTTL)
		defer s.Close()

		if err := s.Put(ctx, "scope-a", tokenstore.Record{Token: "tok-a", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		if err := s.Put(ctx, "scope-b", tokenstore.Record{Token: "tok-b", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		got, err := s.Get(ctx, "scope-a")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got == nil || got.Token != "tok-a" {
			t.Fatalf("Get(scope-a) = %+v, want token %q", got, "tok-a")
		}
	})

	t.Run("ExpiryLazyEviction", func(t *testing.T) {
		s := newStore(t, 50*time.Millisecond)
		defer s.Close()

		if err := s.Put(ctx, "k1", tokenstore.Record{Token: "tok-1", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		time.Sleep(80 * time.Millisecond)

		rec, err := s.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if rec != nil {
			t.Fatalf("Get() after TTL returned %+v, want nil", rec)
		}

		// The expired record must be gone from the backing storage too.
		rec, err = s.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if rec != nil {
			t.Fatalf("expired record still present: %+v", rec)
		}
	})

	t.Run("ClearIdempotent", func(t *testing.T) {
		s := newStore(t, tokenstore.DefaultTTL)
		defer s.Close()

		if err := s.Put(ctx, "k1", tokenstore.Record{Token: "tok-1", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		if err := s.Clear(ctx, "k1"); err != nil {
			t.Fatalf("Clear() failed: %v", err)
		}
		rec, err := s.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if rec != nil {
			t.Fatalf("Get() after Clear() returned %+v, want nil", rec)
		}
		// Clearing again must not error.
		if err := s.Clear(ctx, "k1"); err != nil {
			t.Fatalf("second Clear() failed: %v", err)
		}
	})

	t.Run("PreferencesIndependentOfTokens", func(t *testing.T) {
		s := newStore(t, 50*time.Millisecond)
		defer s.Close()

		prefs, err := s.GetPreferences(ctx)
		if err != nil {
			t.Fatalf("GetPreferences() failed: %v", err)
		}
		if prefs != nil {
			t.Fatalf("GetPreferences() on empty store = %+v, want nil", prefs)
		}

		want := tokenstore.Preferences{Theme: "dark", FiatCurrency: "USD"}
		if err := s.PutPreferences(ctx, want); err != nil {
			t.Fatalf("PutPreferences() failed: %v", err)
		}

		// Preferences outlive token expiry and token clears.
		if err := s.Put(ctx, "k1", tokenstore.Record{Token: "tok-1", CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		time.Sleep(80 * time.Millisecond)
		if _, err := s.Get(ctx, "k1"); err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if err := s.Clear(ctx, "k1"); err != nil {
			t.Fatalf("Clear() failed: %v", err)
		}

		prefs, err = s.GetPreferences(ctx)
		if err != nil {
			t.Fatalf("GetPreferences() failed: %v", err)
		}
		if prefs == nil || *prefs != want {
			t.Fatalf("GetPreferences() = %+v, want %+v", prefs, want)
		}
	})
}
