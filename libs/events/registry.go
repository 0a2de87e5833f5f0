package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownType  = errors.New("events: unknown event type")
	ErrEmptyPayload = errors.New("events: empty payload")
)

// DecodeFunc turns a stored payload back into its event.
type DecodeFunc func(payload []byte) (Event, error)

// Registry maps wire tags to decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// NewBookingRegistry returns a registry holding every booking saga event.
func NewBookingRegistry() *Registry {
	r := NewRegistry()
	mustRegister(r, Register[BookingCreated])
	mustRegister(r, Register[BookingStepCompleted])
	mustRegister(r, Register[BookingFailed])
	mustRegister(r, Register[BookingStepCompensationRequested])
	return r
}

func mustRegister(r *Registry, register func(*Registry) error) {
	if err := register(r); err != nil {
		panic(err)
	}
}

func (r *Registry) Register(tag string, decode DecodeFunc) error {
	if tag == "" || decode == nil {
		return errors.New("events: tag and decoder are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[tag]; exists {
		return fmt.Errorf("events: %q already registered", tag)
	}
	r.decoders[tag] = decode
	return nil
}

// Register adds a JSON decoder for T under T's own EventType tag.
func Register[T Event](r *Registry) error {
	var zero T
	return r.Register(zero.EventType(), func(payload []byte) (Event, error) {
		v, err := Decode[T](payload)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

func (r *Registry) Known(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[tag]
	return ok
}

// Encode serializes evt. Only registered events can be encoded, so every
// stored payload can be decoded again.
func (r *Registry) Encode(evt Event) (string, []byte, error) {
	if evt == nil {
		return "", nil, ErrEmptyPayload
	}
	tag := evt.EventType()
	if !r.Known(tag) {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownType, tag)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return tag, payload, nil
}

func (r *Registry) Decode(tag string, payload []byte) (Event, error) {
	r.mu.RLock()
	decode, ok := r.decoders[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, tag)
	}
	evt, err := decode(payload)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, fmt.Errorf("decode %s: %w", tag, ErrEmptyPayload)
	}
	return evt, nil
}

// Decode unmarshals payload into T. A missing or JSON null payload is
// ErrEmptyPayload.
func Decode[T Event](payload []byte) (T, error) {
	var v T
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return v, fmt.Errorf("decode %s: %w", v.EventType(), ErrEmptyPayload)
	}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", v.EventType(), err)
	}
	return v, nil
}
