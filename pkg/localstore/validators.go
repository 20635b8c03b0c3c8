package localstore

import (
	"encoding/json"
	"fmt"
)

// Validator converts a JSON-decoded value into T. It may transform the
// value. A non-nil error marks the stored value as unusable.
//
// Validators must be pure: they may run on any goroutine and must not call
// back into the Manager.
type Validator[T any] func(raw any) (T, error)

// As returns a validator that re-decodes the raw value into T with
// encoding/json, rejecting values whose shape does not fit.
func As[T any]() Validator[T] {
	return func(raw any) (T, error) {
		var v T
		data, err := json.Marshal(raw)
		if err != nil {
			return v, err
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return v, fmt.Errorf("decode into %T: %w", v, err)
		}
		return v, nil
	}
}

// Identity returns a validator that accepts any decoded value unchanged.
func Identity() Validator[any] {
	return func(raw any) (any, error) {
		return raw, nil
	}
}
