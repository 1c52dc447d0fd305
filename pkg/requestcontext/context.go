// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// The request boundary (HTTP middleware, a queue consumer, a CLI command) calls Establish once
// and stores the resulting Info with WithInfo. Everything downstream reads it back from the
// context.Context it already receives, so the actor and provenance of a request travel with the
// request and are never held in shared state.
//
// Usage at the boundary:
//
//	info := requestcontext.Establish(transport, identity)
//	ctx = requestcontext.WithInfo(ctx, info)
//
// Usage in services:
//
//	actor := requestcontext.ActorID(ctx)
//	info := requestcontext.FromContext(ctx)
//
// Usage in tests:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

// Info is the per-request value bag. It is a value type: once stored in a context it cannot be
// changed by downstream code, only shadowed by a derived context.
type Info struct {
	ActorID    string
	ActorRole  string
	ActorEmail string

	ClientIP  string
	UserAgent string
	SessionID string
	RequestID string
}

// Anonymous reports whether no identity was resolved for the request.
func (i Info) Anonymous() bool {
	return i.ActorID == ""
}

// Context key types (unexported for encapsulation).
type (
	infoKey        struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyInfo        = infoKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// WithInfo stores the request info in the context.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ContextKeyInfo, info)
}

// FromContext returns the request info, or the zero Info (anonymous, no provenance) when the
// context was not established by a request boundary, e.g. background jobs.
func FromContext(ctx context.Context) Info {
	if info, ok := ctx.Value(ContextKeyInfo).(Info); ok {
		return info
	}
	return Info{}
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// ActorID retrieves the authenticated actor ID. Empty for anonymous requests.
func ActorID(ctx context.Context) string {
	return FromContext(ctx).ActorID
}

// ActorRole retrieves the authenticated actor's role.
func ActorRole(ctx context.Context) string {
	return FromContext(ctx).ActorRole
}

// SessionID retrieves the session ID.
func SessionID(ctx context.Context) string {
	return FromContext(ctx).SessionID
}

// ClientIP retrieves the client IP address.
func ClientIP(ctx context.Context) string {
	return FromContext(ctx).ClientIP
}

// UserAgent retrieves the User-Agent.
func UserAgent(ctx context.Context) string {
	return FromContext(ctx).UserAgent
}

// RequestID retrieves the request ID.
func RequestID(ctx context.Context) string {
	return FromContext(ctx).RequestID
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that don't run the full HTTP middleware chain
//   - Workers that need consistent time within a batch operation
//   - CLI commands
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
