package reqcontext

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header name for request IDs
	RequestIDHeader = "X-Request-Id"

	// MaxRequestIDLength is the maximum allowed length for a request ID
	MaxRequestIDLength = 256
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sourceKey    contextKey = "request_source"
)

// Source names what triggered an outbound call.
type Source string

const (
	SourceManual   Source = "manual"
	SourcePoll     Source = "poll"
	SourcePush     Source = "push"
	SourceMutation Source = "mutation"
	SourceCLI      Source = "cli"
	SourceUnknown  Source = "unknown"
)

// requestIDPattern validates request ID format: alphanumeric, dashes, underscores
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,256}$`)

// IsValidRequestID checks if a request ID matches the allowed pattern.
func IsValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	return requestIDPattern.MatchString(id)
}

// GenerateRequestID generates a new UUID v4 request ID
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithRequestID pins the request ID used for calls made with ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the ID stored in ctx when valid, otherwise a fresh one.
func RequestID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(requestIDKey).(string); ok && IsValidRequestID(id) {
			return id
		}
	}
	return GenerateRequestID()
}

// WithSource tags ctx with the trigger of the call.
func WithSource(ctx context.Context, source Source) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// GetSource returns the trigger stored in ctx.
func GetSource(ctx context.Context) Source {
	if ctx == nil {
		return SourceUnknown
	}
	if source, ok := ctx.Value(sourceKey).(Source); ok {
		return source
	}
	return SourceUnknown
}
