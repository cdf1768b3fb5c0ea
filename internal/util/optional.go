package util

import "encoding/json"

// Optional distinguishes "field not submitted" from "field set to a value",
// including the zero value. The zero Optional is unset.
type Optional[T any] struct {
	Value T
	Set   bool
}

func Some[T any](value T) Optional[T] {
	return Optional[T]{Value: value, Set: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Or returns the contained value, or fallback when unset.
func (o Optional[T]) Or(fallback T) T {
	if o.Set {
		return o.Value
	}
	return fallback
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON is only invoked for fields present in the payload, so any
// decoded field is marked set. Absent fields keep the zero (unset) value.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Set = true
	return nil
}
