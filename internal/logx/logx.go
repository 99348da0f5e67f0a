package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/vtview/schema"
)

type contextKey int

const (
	sessionKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session ref when present.
func WithSession(log pslog.Logger, ref schema.SessionRef) pslog.Logger {
	if ref.ID != "" {
		log = log.With("session", ref.ID)
	}
	if ref.Coordinator != "" {
		log = log.With("coordinator", ref.Coordinator)
	}
	return log
}

// WithAttempt annotates the logger with a reconnect attempt number.
func WithAttempt(log pslog.Logger, attempt int) pslog.Logger {
	if attempt > 0 {
		log = log.With("attempt", attempt)
	}
	return log
}

// WithURL annotates the logger with the stream endpoint.
func WithURL(log pslog.Logger, url string) pslog.Logger {
	if url != "" {
		log = log.With("url", url)
	}
	return log
}

// SessionFromContext annotates the context logger with the session stored on
// the context, unless it already carries it.
func SessionFromContext(ctx context.Context) pslog.Logger {
	log := pslog.Ctx(ctx)
	if ref, ok := ctx.Value(sessionKey).(schema.SessionRef); ok {
		log = WithSession(log, ref)
	}
	return log
}

// ContextWithSession stores the session marker on the context.
func ContextWithSession(ctx context.Context, ref schema.SessionRef) context.Context {
	if ctx == nil || ref.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, ref)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, ref schema.SessionRef) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, ref)
}

// SessionOf returns the session marker stored on ctx.
func SessionOf(ctx context.Context) (schema.SessionRef, bool) {
	if ctx == nil {
		return schema.SessionRef{}, false
	}
	ref, ok := ctx.Value(sessionKey).(schema.SessionRef)
	return ref, ok
}
