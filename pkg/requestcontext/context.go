// Package requestcontext provides transport-independent context accessors for
// request-scoped values.
//
// Values are set by the HTTP middleware and the websocket read loop, and read by
// the hub services and stores. Keeping this package free of net/http lets the
// service layer import it without dragging transport code along.
//
// Usage in services (read values):
//
//	identity, ok := requestcontext.Identity(ctx)
//	connID := requestcontext.ConnectionID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	"trackhub/internal/tracking/models"
)

// Context key types (unexported for encapsulation).
type (
	identityKey     struct{}
	connectionIDKey struct{}
	clientIPKey     struct{}
	userAgentKey    struct{}
	requestIDKey    struct{}
	requestTimeKey  struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyIdentity     = identityKey{}
	ContextKeyConnectionID = connectionIDKey{}
	ContextKeyClientIP     = clientIPKey{}
	ContextKeyUserAgent    = userAgentKey{}
	ContextKeyRequestID    = requestIDKey{}
	ContextKeyRequestTime  = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Principal
// -----------------------------------------------------------------------------

// Identity retrieves the authenticated identity set by the auth middleware.
func Identity(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(ContextKeyIdentity).(models.Identity)
	return identity, ok
}

// WithIdentity injects an authenticated identity into the context.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

// ConnectionID retrieves the websocket connection id.
// Returns the zero value if the context does not belong to a connection.
func ConnectionID(ctx context.Context) models.ConnectionID {
	if id, ok := ctx.Value(ContextKeyConnectionID).(models.ConnectionID); ok {
		return id
	}
	return models.ConnectionID{}
}

// WithConnectionID injects a connection id into the context.
func WithConnectionID(ctx context.Context, id models.ConnectionID) context.Context {
	return context.WithValue(ctx, ContextKeyConnectionID, id)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, feeds, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
