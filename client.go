package onramp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Must-be-Ash/onramp-go/internal/logctx"
	"github.com/Must-be-Ash/onramp-go/tokenstore"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// maxErrorBodyBytes caps how much of a failure response body is read for the
// error message.
const maxErrorBodyBytes = 64 << 10

// Client acquires session tokens from the issuing endpoint, consulting the
// token store first and de-duplicating concurrent acquisitions for the same
// scope. Safe for concurrent use.
type Client struct {
	cfg        Config
	store      tokenstore.Store
	httpClient *http.Client
	log        *slog.Logger
	group      singleflight.Group
	now        func() time.Time
	jitterMax  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used to reach the issuer.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client that caches issued tokens in store.
func New(cfg Config, store tokenstore.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("onramp client config: %w", err)
	}
	c := &Client{
		cfg:       cfg,
		store:     store,
		log:       slog.Default(),
		now:       time.Now,
		jitterMax: defaultJitterMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return c, nil
}

// NewFromEnv builds a Client from environment configuration.
func NewFromEnv(store tokenstore.Store, opts ...Option) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg, store, opts...)
}

// SessionToken returns a session token scoped to params, from cache when a
// valid one exists and from the issuer otherwise. The returned token is ready
// to embed in a checkout URL.
func (c *Client) SessionToken(ctx context.Context, params SessionParams) (string, error) {
	rec, err := c.sessionRecord(ctx, params)
	if err != nil {
		return "", err
	}
	return rec.Token, nil
}

// sessionRecord is SessionToken plus the issuance timestamp, which the
// Refresher needs for scheduling.
func (c *Client) sessionRecord(ctx context.Context, params SessionParams) (tokenstore.Record, error) {
	if err := params.validate(); err != nil {
		return tokenstore.Record{}, err
	}
	key := params.ScopeKey()
	ctx = logctx.WithAcquireData(ctx, &logctx.AcquireData{
		RequestID: uuid.NewString(),
		ScopeKey:  key[:12],
	})

	if rec, err := c.store.Get(ctx, key); err != nil {
		// A broken cache read degrades to a fresh issuance.
		c.log.WarnContext(ctx, "token.cache.read_failed", slog.String("err", err.Error()))
	} else if rec != nil {
		c.log.DebugContext(ctx, "token.cache.hit")
		return *rec, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have stored a token while we waited.
		if rec, err := c.store.Get(ctx, key); err == nil && rec != nil {
			return *rec, nil
		}
		rec, err := c.issueWithRetry(ctx, params)
		if err != nil {
			return nil, err
		}
		if err := c.store.Put(ctx, key, rec); err != nil {
			// The token is still good; only the cache write failed.
			c.log.WarnContext(ctx, "token.cache.write_failed", slog.String("err", err.Error()))
		}
		return rec, nil
	})
	if err != nil {
		return tokenstore.Record{}, err
	}
	if shared {
		c.log.DebugContext(ctx, "token.issue.shared")
	}
	return v.(tokenstore.Record), nil
}

// issueWithRetry runs the bounded retry loop around single issuance
// attempts. After the final attempt the last error is returned as-is so the
// caller sees the root cause.
func (c *Client) issueWithRetry(ctx context.Context, params SessionParams) (tokenstore.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := retryDelay(attempt-1, c.cfg.BaseDelay, c.jitterMax)
			c.log.DebugContext(ctx, "token.issue.retry",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			if err := sleep(ctx, delay); err != nil {
				return tokenstore.Record{}, fmt.Errorf("token issue canceled: %w", err)
			}
		}

		token, err := c.issue(ctx, params)
		if err == nil {
			rec := tokenstore.Record{Token: token, CreatedAt: c.now()}
			c.log.InfoContext(ctx, "token.issue.ok", slog.Int("attempt", attempt))
			return rec, nil
		}
		lastErr = err
		c.log.WarnContext(ctx, "token.issue.attempt_failed",
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()))
	}
	return tokenstore.Record{}, lastErr
}

type sessionTokenResponse struct {
	SessionToken string `json:"sessionToken"`
	Error        string `json:"error"`
}

// issue performs one POST to the issuing endpoint.
func (c *Client) issue(ctx context.Context, params SessionParams) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode session request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SessionURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		var failure sessionTokenResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodyBytes)).Decode(&failure); err == nil {
			se.Reason = failure.Error
		}
		return "", se
	}

	if ct := contenttype.NewMediaType(resp.Header.Get("Content-Type")); !ct.Matches(jsonMediaType) {
		return "", fmt.Errorf("issuer response content-type %q: %w", resp.Header.Get("Content-Type"), ErrMissingToken)
	}
	var ok sessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
		return "", fmt.Errorf("decode issuer response: %w", err)
	}
	if ok.SessionToken == "" {
		return "", ErrMissingToken
	}
	return ok.SessionToken, nil
}
