package models

import (
	"bytes"
	"encoding/json"
)

// Optional is a value that is either known or unknown. It replaces nullable
// strings for best-effort device fields so callers must handle the unknown
// case explicitly. The zero value is unknown.
type Optional[T any] struct {
	value T
	known bool
}

// Known returns an Optional holding v.
func Known[T any](v T) Optional[T] {
	return Optional[T]{value: v, known: true}
}

// Unknown returns an empty Optional.
func Unknown[T any]() Optional[T] {
	return Optional[T]{}
}

// KnownString is Known for strings, except that an empty string is unknown.
func KnownString(s string) Optional[string] {
	if s == "" {
		return Unknown[string]()
	}
	return Known(s)
}

// Get returns the value and whether it is known.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.known
}

// IsKnown reports whether a value is present.
func (o Optional[T]) IsKnown() bool {
	return o.known
}

// OrElse returns the value if known, otherwise def.
func (o Optional[T]) OrElse(def T) T {
	if o.known {
		return o.value
	}
	return def
}

// Or returns o if known, otherwise other.
func (o Optional[T]) Or(other Optional[T]) Optional[T] {
	if o.known {
		return o
	}
	return other
}

// MarshalJSON encodes unknown as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.known {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as unknown.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Known(v)
	return nil
}
