// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; ingestion reads them to stamp origin fields
// onto audit records. Keeping this package free of net/http lets workers and
// tests inject the same values without an HTTP layer.
//
// Usage in services (read values):
//
//	ip := requestcontext.ClientIP(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//	ctx = requestcontext.WithClientMetadata(ctx, ip, userAgent)
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	actorIDKey     struct{}
	actorTypeKey   struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestURLKey  struct{}
	requestTimeKey struct{}
)

// ActorID retrieves the authenticated actor identifier from the context.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ActorType retrieves the actor type (e.g. "User", "Service") from the context.
func ActorType(ctx context.Context) string {
	if v, ok := ctx.Value(actorTypeKey{}).(string); ok {
		return v
	}
	return ""
}

// WithActor injects the acting identity into the context.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, actorTypeKey{}, actorType)
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey{}).(string); ok {
		return v
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(userAgentKey{}).(string); ok {
		return v
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestURL retrieves the originating request URL from the context.
func RequestURL(ctx context.Context) string {
	if v, ok := ctx.Value(requestURLKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestURL injects the originating request URL into the context.
func WithRequestURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, requestURLKey{}, url)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// TimeOf reports the request-scoped time and whether one was injected,
// for callers that have their own fallback clock.
func TimeOf(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(requestTimeKey{}).(time.Time)
	return t, ok
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for workers that need consistent time within a batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
