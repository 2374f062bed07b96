package onramp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Must-be-Ash/onramp-go/tokenstore/memory"
)

var testParams = SessionParams{
	Addresses: []Address{{Address: "0xabc123", Blockchains: []string{"base", "ethereum"}}},
	Assets:    []string{"USDC"},
}

func newTestClient(t *testing.T, sessionURL string) *Client {
	t.Helper()
	store, err := memory.New(16)
	if err != nil {
		t.Fatalf("memory.New() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c, err := New(Config{
		SessionURL: sessionURL,
		BaseDelay:  time.Millisecond,
	}, store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	// Deterministic, fast retries under test.
	c.jitterMax = 0
	return c
}

func TestSessionTokenSingleCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var got SessionParams
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if len(got.Addresses) != 1 || got.Addresses[0].Address != "0xabc123" {
			t.Errorf("issuer received addresses %+v", got.Addresses)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"sessionToken": "abc"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	tok, err := c.SessionToken(context.Background(), testParams)
	if err != nil {
		t.Fatalf("SessionToken() failed: %v", err)
	}
	if tok != "abc" {
		t.Fatalf("SessionToken() = %q, want %q", tok, "abc")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("issuer called %d times, want 1", n)
	}
}

func TestSessionTokenCacheHit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"sessionToken": "abc"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tok, err := c.SessionToken(ctx, testParams)
		if err != nil {
			t.Fatalf("SessionToken() call %d failed: %v", i+1, err)
		}
		if tok != "abc" {
			t.Fatalf("SessionToken() = %q, want %q", tok, "abc")
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("issuer called %d times, want 1 (cache misses on repeat calls)", n)
	}
}

func TestRetryRecoversFromServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, `{"error":"upstream unavailable"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"sessionToken": "xyz"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	tok, err := c.SessionToken(context.Background(), testParams)
	if err != nil {
		t.Fatalf("SessionToken() failed: %v", err)
	}
	if tok != "xyz" {
		t.Fatalf("SessionToken() = %q, want %q", tok, "xyz")
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("issuer called %d times, want exactly 3", n)
	}
}

func TestRetriesExhaustedSurfacesCause(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.SessionToken(context.Background(), testParams)
	if err == nil {
		t.Fatal("SessionToken() succeeded, want error")
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("issuer called %d times, want exactly maxRetries=3", n)
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %v does not unwrap to *StatusError", err)
	}
	if se.Code != http.StatusInternalServerError {
		t.Fatalf("StatusError.Code = %d, want 500", se.Code)
	}
	if se.Reason != "boom" {
		t.Fatalf("StatusError.Reason = %q, want %q", se.Reason, "boom")
	}
}

func TestMissingTokenField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.SessionToken(context.Background(), testParams)
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("error = %v, want ErrMissingToken", err)
	}
}

func TestNonJSONSuccessRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.SessionToken(context.Background(), testParams)
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("error = %v, want ErrMissingToken for non-JSON success", err)
	}
}

// The cache is keyed by request scope: a token minted for one wallet is never
// served for another.
func TestCacheKeyedByScope(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"sessionToken": "tok-" + string(rune('0'+n))})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	walletA := SessionParams{Addresses: []Address{{Address: "0xaaa", Blockchains: []string{"base"}}}}
	walletB := SessionParams{Addresses: []Address{{Address: "0xbbb", Blockchains: []string{"base"}}}}

	tokA, err := c.SessionToken(ctx, walletA)
	if err != nil {
		t.Fatalf("SessionToken(walletA) failed: %v", err)
	}
	tokB, err := c.SessionToken(ctx, walletB)
	if err != nil {
		t.Fatalf("SessionToken(walletB) failed: %v", err)
	}
	if tokA == tokB {
		t.Fatalf("wallet B reused wallet A's token %q", tokA)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("issuer called %d times, want 2 (one per scope)", n)
	}

	// Wallet A's token is still cached.
	again, err := c.SessionToken(ctx, walletA)
	if err != nil {
		t.Fatalf("SessionToken(walletA) failed: %v", err)
	}
	if again != tokA {
		t.Fatalf("cached token for wallet A = %q, want %q", again, tokA)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("issuer called %d times after cache hit, want 2", n)
	}
}

func TestConcurrentAcquiresShareOneIssuance(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"sessionToken": "shared"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	const n = 8
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.SessionToken(ctx, testParams)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != "shared" {
			t.Fatalf("caller %d got token %q, want %q", i, tokens[i], "shared")
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("issuer called %d times for %d concurrent callers, want 1", got, n)
	}
}

func TestContextCancelAbortsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.cfg.BaseDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.SessionToken(ctx, testParams)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took %v, backoff ignored ctx", elapsed)
	}
}

func TestInvalidParamsRejectedLocally(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	for _, params := range []SessionParams{
		{},
		{Addresses: []Address{{Address: "", Blockchains: []string{"base"}}}},
		{Addresses: []Address{{Address: "0xabc", Blockchains: nil}}},
	} {
		if _, err := c.SessionToken(context.Background(), params); err == nil {
			t.Fatalf("SessionToken(%+v) succeeded, want validation error", params)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("issuer called %d times for invalid params, want 0", n)
	}
}
