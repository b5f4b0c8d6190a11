package riskgate

import (
	"context"

	"github.com/openclave/riskgate/internal/risk"
)

type contextKey int

const (
	ctxKeyOrigin contextKey = iota
	ctxKeySignals
	ctxKeyCorrelationID
)

// WithOrigin attaches the client network origin (typically the remote
// IP) used for throttling, risk scoring and audit events.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, ctxKeyOrigin, origin)
}

// WithDeviceSignals attaches the client-presented device attributes the
// fingerprint is derived from. Signals stay in process memory; only
// their salted hash is ever persisted.
func WithDeviceSignals(ctx context.Context, signals DeviceSignals) context.Context {
	return context.WithValue(ctx, ctxKeySignals, signals)
}

// WithCorrelationID attaches a caller-chosen correlation id stamped on
// every audit event of the operation. Absent, the engine mints one.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

func originFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyOrigin).(string)
	return v
}

func signalsFromContext(ctx context.Context) risk.Signals {
	v, _ := ctx.Value(ctxKeySignals).(risk.Signals)
	return v
}

func correlationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return v
}
