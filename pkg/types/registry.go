package types

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DecodeFunc turns raw payload bytes into a typed value
type DecodeFunc func(data []byte) (any, error)

// TypeRegistry maps declared payload type names to decoders.
// It is owned by the application side and injected where payloads are decoded.
type TypeRegistry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewTypeRegistry creates an empty registry
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{decoders: make(map[string]DecodeFunc)}
}

// Register binds a type name to a decoder, replacing any previous binding
func (r *TypeRegistry) Register(name string, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[name] = fn
}

// RegisterJSON binds a type name to a JSON decoder for T
func RegisterJSON[T any](r *TypeRegistry, name string) {
	r.Register(name, func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return &v, nil
	})
}

// Decode decodes a payload using the decoder bound to its type
func (r *TypeRegistry) Decode(p Payload) (any, error) {
	r.mu.RLock()
	fn, ok := r.decoders[p.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown payload type %q", ErrValidation, p.Type)
	}
	v, err := fn(p.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %q: %v", ErrValidation, p.Type, err)
	}
	return v, nil
}

// Known reports whether a decoder is bound to name
func (r *TypeRegistry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[name]
	return ok
}

// NewPayload encodes v as JSON under the given type name
func NewPayload(typeName string, v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("encode payload %q: %w", typeName, err)
	}
	return Payload{Type: typeName, Data: data}, nil
}
