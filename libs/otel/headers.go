package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceHeaders is the W3C trace context of the span that wrote an outbox
// row. Both fields are empty when no span was active.
type TraceHeaders struct {
	Traceparent string
	Tracestate  string
}

func Capture(ctx context.Context) TraceHeaders {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceHeaders{
		Traceparent: carrier.Get("traceparent"),
		Tracestate:  carrier.Get("tracestate"),
	}
}

// Restore makes h the remote parent of spans started from the returned
// context.
func (h TraceHeaders) Restore(ctx context.Context) context.Context {
	if h.Traceparent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": h.Traceparent}
	if h.Tracestate != "" {
		carrier.Set("tracestate", h.Tracestate)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
