// Package codec serializes channel payloads.
//
// The default codec is JSON backed by sonic. When a value cannot be
// serialized, the error carries a reflective inspection of the value so
// the caller can see which field is the problem.
package codec

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Codec converts values to and from slot payload bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// JSON is the default sonic-backed codec.
type JSON struct{}

// Marshal serializes v. Failures include a diagnostic report naming the
// non-serializable parts of the value.
func (JSON) Marshal(v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not serialize value of type %T: %s: %w", v, Inspect(v), err)
	}
	return data, nil
}

// Unmarshal deserializes a slot payload into a generic value.
func (JSON) Unmarshal(data []byte) (any, error) {
	var v any
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("could not deserialize slot payload: %w", err)
	}
	return v, nil
}
