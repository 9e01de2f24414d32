package engine

import (
	"context"

	"github.com/openfroyo/powerdown/pkg/telemetry"
)

type runIDKey struct{}

// ContextWithRunID returns a context carrying runID. Events published by
// components under this context are stamped with it.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run ID carried by ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// orNoop returns tel, or no-op telemetry when tel is nil.
func orNoop(tel *telemetry.Telemetry) *telemetry.Telemetry {
	if tel == nil {
		return telemetry.Noop()
	}
	return tel
}

// publish sends an engine event for the run in ctx.
func publish(ctx context.Context, tel *telemetry.Telemetry, phase Phase, eventType, level, message string, data map[string]any) {
	tel.Events.Publish(telemetry.Event{
		Type:    eventType,
		Source:  "engine",
		RunID:   RunIDFromContext(ctx),
		Phase:   string(phase),
		Message: message,
		Level:   level,
		Data:    data,
	})
}
