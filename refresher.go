package onramp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefreshThreshold is how long before expiry a Refresher replaces the
// cached token.
const DefaultRefreshThreshold = 60 * time.Second

// defaultRefreshRetryInterval is the fallback wait after a failed proactive
// refresh before trying again.
const defaultRefreshRetryInterval = 5 * time.Second

// Refresher proactively re-acquires a session token for one scope shortly
// before the cached token expires, so callers hitting the cache never observe
// a miss in steady state. Stop cancels the pending timer; no refresh fires
// after Stop returns.
type Refresher struct {
	client        *Client
	params        SessionParams
	threshold     time.Duration
	retryInterval time.Duration
	log           *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// RefreshOption configures a Refresher.
type RefreshOption func(*Refresher)

// WithRefreshThreshold overrides how long before expiry the refresh fires.
func WithRefreshThreshold(d time.Duration) RefreshOption {
	return func(r *Refresher) { r.threshold = d }
}

// WithRefreshRetryInterval overrides the wait after a failed refresh.
func WithRefreshRetryInterval(d time.Duration) RefreshOption {
	return func(r *Refresher) { r.retryInterval = d }
}

// AutoRefresh acquires a token for params and keeps it fresh until Stop is
// called. The priming acquisition uses ctx; refresh ticks run on their own
// background context.
func (c *Client) AutoRefresh(ctx context.Context, params SessionParams, opts ...RefreshOption) (*Refresher, error) {
	r := &Refresher{
		client:        c,
		params:        params,
		threshold:     DefaultRefreshThreshold,
		retryInterval: defaultRefreshRetryInterval,
		log:           c.log,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.threshold <= 0 {
		return nil, fmt.Errorf("refresh threshold %v must be positive", r.threshold)
	}
	// A threshold at or beyond the TTL would schedule every refresh in the
	// past, hammering the issuer in a zero-delay loop.
	if r.threshold >= c.cfg.TTL {
		return nil, fmt.Errorf("refresh threshold %v must be shorter than token TTL %v", r.threshold, c.cfg.TTL)
	}

	rec, err := c.sessionRecord(ctx, params)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.scheduleLocked(rec.CreatedAt)
	r.mu.Unlock()
	return r, nil
}

// scheduleLocked arms the one-shot timer at createdAt + ttl - threshold.
// Caller holds r.mu.
func (r *Refresher) scheduleLocked(createdAt time.Time) {
	fireAt := createdAt.Add(r.client.cfg.TTL - r.threshold)
	d := time.Until(fireAt)
	if d < 0 {
		d = 0
	}
	r.timer = time.AfterFunc(d, r.refresh)
}

func (r *Refresher) refresh() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	ctx := context.Background()
	key := r.params.ScopeKey()

	// Discard the soon-to-expire token so the acquire below goes to the
	// issuer rather than hitting the cache.
	if err := r.client.store.Clear(ctx, key); err != nil {
		r.log.Warn("token.refresh.clear_failed", slog.String("err", err.Error()))
	}
	rec, err := r.client.sessionRecord(ctx, r.params)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if err != nil {
		r.log.Warn("token.refresh.failed", slog.String("err", err.Error()))
		r.timer = time.AfterFunc(r.retryInterval, r.refresh)
		return
	}
	r.log.Debug("token.refresh.ok")
	r.scheduleLocked(rec.CreatedAt)
}

// Stop cancels the pending refresh. Idempotent. An acquisition already in
// flight may complete, but no new timer fires after Stop returns.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
