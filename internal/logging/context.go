package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	accountIDKey ctxKey = iota
	correlationIDKey
	actionTypeKey
)

// WithAccountID returns a context with the account ID set.
func WithAccountID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

// WithCorrelationID returns a context with the correlation ID set.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithActionType returns a context with the action type set.
func WithActionType(ctx context.Context, actionType string) context.Context {
	return context.WithValue(ctx, actionTypeKey, actionType)
}

// AccountID extracts the account ID from the context, or "" if absent.
func AccountID(ctx context.Context) string {
	v, _ := ctx.Value(accountIDKey).(string)
	return v
}

// CorrelationID extracts the correlation ID from the context, or "" if absent.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// ActionType extracts the action type from the context, or "" if absent.
func ActionType(ctx context.Context) string {
	v, _ := ctx.Value(actionTypeKey).(string)
	return v
}

// WithIDs sets all three correlation fields on the context at once.
func WithIDs(ctx context.Context, accountID, correlationID, actionType string) context.Context {
	ctx = WithAccountID(ctx, accountID)
	ctx = WithCorrelationID(ctx, correlationID)
	ctx = WithActionType(ctx, actionType)
	return ctx
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation fields from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and the fields appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation field injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := AccountID(ctx); v != "" {
		r.AddAttrs(slog.String("account_id", v))
	}
	if v := CorrelationID(ctx); v != "" {
		r.AddAttrs(slog.String("correlation_id", v))
	}
	if v := ActionType(ctx); v != "" {
		r.AddAttrs(slog.String("action_type", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
