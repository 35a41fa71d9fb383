package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "colony"

// Tracer returns the runtime's tracer from the global provider. Without an
// installed SDK this is a no-op tracer, so call sites never branch.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
