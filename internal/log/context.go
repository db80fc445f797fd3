package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	runIDKey       ctxKey = "run_id"
	fingerprintKey ctxKey = "fingerprint"
)

// ContextWithRunID stores the processing run ID in the context.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the processing run ID from context if present.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithFingerprint stores the recording fingerprint in the context.
func ContextWithFingerprint(ctx context.Context, fp string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, fingerprintKey, fp)
}

// FingerprintFromContext extracts the recording fingerprint from context if present.
func FingerprintFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(fingerprintKey).(string); ok {
		return v
	}
	return ""
}

// WithComponentFromContext returns a logger annotated with the component name
// plus any run ID or fingerprint carried by the context.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	builder := logger().With().Str(FieldComponent, component)
	if id := RunIDFromContext(ctx); id != "" {
		builder = builder.Str(FieldRunID, id)
	}
	if fp := FingerprintFromContext(ctx); fp != "" {
		builder = builder.Str(FieldFingerprint, fp)
	}
	return builder.Logger()
}
