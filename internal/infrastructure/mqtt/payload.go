package mqtt

import (
	"encoding/json"
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// PayloadMarshaler is implemented by values that produce their own wire bytes.
type PayloadMarshaler interface {
	MarshalPayload() ([]byte, error)
}

// EncodePayload converts a publish value into wire bytes.
//
// Encoding rules, in order:
//   - []byte, string and json.RawMessage are sent as-is
//   - a PayloadMarshaler supplies its own bytes
//   - nil is sent as an empty payload
//   - anything else is encoded as JSON
//
// Returns:
//   - []byte: the encoded payload
//   - error: wraps ErrInvalidPayload or ErrPayloadTooLarge
func EncodePayload(v any) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch p := v.(type) {
	case nil:
		data = []byte{}
	case []byte:
		data = p
	case string:
		data = []byte(p)
	case json.RawMessage:
		data = p
	case PayloadMarshaler:
		data, err = p.MarshalPayload()
	default:
		data, err = json.Marshal(p)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPayloadTooLarge, len(data), maxPayloadSize)
	}
	return data, nil
}
