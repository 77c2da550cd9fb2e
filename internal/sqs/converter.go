package sqs

import (
	"context"
	"encoding/json"
	"fmt"
)

// Converter maps between raw message bodies and typed payloads. Conversion
// runs just before the handler call (and just before a template send),
// outside the concurrency core; a conversion failure is a processing failure
// for that message.
type Converter interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONConverter encodes and decodes message bodies as JSON.
type JSONConverter struct{}

func (JSONConverter) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message body: %w", err)
	}

	return data, nil
}

func (JSONConverter) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to deserialize message body: %w", err)
	}

	return nil
}

// Typed adapts a typed processing function into a Handler by decoding the
// message body with conv first.
func Typed[T any](conv Converter, fn func(ctx context.Context, payload T, msg Message) error) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) error {
		var payload T
		if err := conv.Unmarshal(msg.Body, &payload); err != nil {
			return err
		}

		return fn(ctx, payload, msg)
	})
}
