package kafkax

import (
	"context"
	"strings"

	"github.com/md-rashed-zaman/tripsaga/libs/messaging"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderCorrelationID = "correlation_id"
)

// MessageFromEnvelope builds the Kafka record for env. The topic is the
// event type and the key is the aggregate id, so one aggregate always lands
// on one partition.
func MessageFromEnvelope(ctx context.Context, env messaging.Envelope) kafka.Message {
	headers := []kafka.Header{
		{Key: HeaderEventID, Value: []byte(env.ID)},
		{Key: HeaderEventType, Value: []byte(env.Type)},
	}
	if env.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(env.CorrelationID)})
	}
	for k, v := range env.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   env.Type,
		Key:     []byte(env.Key),
		Value:   env.Payload,
		Headers: WithTraceHeaders(ctx, headers),
	}
}

// EnvelopeFromMessage is the inverse of MessageFromEnvelope. A record with
// no event_id header yields an empty ID; the key is an aggregate id and is
// never used as a message identity.
func EnvelopeFromMessage(msg kafka.Message) messaging.Envelope {
	env := messaging.Envelope{
		ID:            HeaderValue(msg.Headers, HeaderEventID),
		Type:          HeaderValue(msg.Headers, HeaderEventType),
		Key:           string(msg.Key),
		CorrelationID: HeaderValue(msg.Headers, HeaderCorrelationID),
		Payload:       msg.Value,
	}
	if env.Type == "" {
		env.Type = msg.Topic
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.Key
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case HeaderEventID, HeaderEventType, HeaderCorrelationID:
			continue
		}
		if env.Headers == nil {
			env.Headers = make(map[string]string)
		}
		env.Headers[h.Key] = string(h.Value)
	}
	return env
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
