// Package logctx enriches slog records with per-acquire metadata carried in
// the context, so every log line emitted while issuing or refreshing a token
// can be correlated without threading loggers through call sites.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if ad, ok := ctx.Value(acquireDataKey{}).(*AcquireData); ok {
		r.AddAttrs(slog.Group("acquire",
			slog.String("id", ad.RequestID),
			slog.String("scope", ad.ScopeKey),
		))
	}
	return h.Handler.Handle(ctx, r)
}

type acquireDataKey struct{}

// AcquireData identifies one token acquisition: a unique request id plus the
// cache scope key the acquisition is bound to.
type AcquireData struct {
	RequestID string
	ScopeKey  string
}

func WithAcquireData(ctx context.Context, data *AcquireData) context.Context {
	return context.WithValue(ctx, acquireDataKey{}, data)
}
