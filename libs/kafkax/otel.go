package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// recordHeaders lets the global propagator read and write kafka-go headers
// in place. Set replaces an existing key so a relayed record never carries
// two traceparents.
type recordHeaders []kafka.Header

var _ propagation.TextMapCarrier = (*recordHeaders)(nil)

func (h *recordHeaders) Get(key string) string { return HeaderValue(*h, key) }

func (h *recordHeaders) Set(key, value string) {
	for i := range *h {
		if (*h)[i].Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

func (h *recordHeaders) Keys() []string {
	keys := make([]string, len(*h))
	for i, hdr := range *h {
		keys[i] = hdr.Key
	}
	return keys
}

// WithTraceHeaders returns headers plus the span context of ctx.
func WithTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := recordHeaders(headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	return carrier
}

// ContextFromMessage continues the producer's trace, if msg carries one.
func ContextFromMessage(ctx context.Context, msg kafka.Message) context.Context {
	carrier := recordHeaders(msg.Headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}
