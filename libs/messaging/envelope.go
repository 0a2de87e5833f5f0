// Package messaging holds the transport-neutral message shape shared by the
// outbox processor, the Kafka adapters and the inbox filter.
package messaging

import (
	"context"
	"errors"
)

// Envelope is one message on the wire. Type doubles as the Kafka topic and
// the payload registry tag.
type Envelope struct {
	ID            string
	Type          string
	Key           string
	CorrelationID string
	Payload       []byte
	Headers       map[string]string
}

// Handler consumes one delivered envelope. A nil return acknowledges it.
type Handler func(ctx context.Context, env Envelope) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering, e.g. an undecodable payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
