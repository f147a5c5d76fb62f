// Package contextkeys holds every context key coursetrail stores values
// under. Keeping them in one leaf package lets identity and observability
// share keys without importing each other.
package contextkeys

import "context"

// Key identifies one context value. The name only shows up when debugging.
type Key struct{ name string }

func (k Key) String() string { return "coursetrail context key " + k.name }

var (
	// IdentityKey holds the caller's *identity.Identity, set by identity.Middleware
	IdentityKey = Key{"identity"}

	// RequestIDKey holds the correlation id echoed in X-Request-Id
	RequestIDKey = Key{"request_id"}

	// LoggerKey holds the request-scoped *observability.Logger
	LoggerKey = Key{"logger"}
)

func WithIdentity(ctx context.Context, id interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request id on ctx, or "" outside a request
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
