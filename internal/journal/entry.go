package journal

import (
	"encoding"
	"fmt"
	"time"
)

// NewEntry builds an Entry from alternating key/value attributes as
// carried by connector events. Values that do not encode cleanly as JSON
// are stored in their string form.
func NewEntry(at time.Time, level, message, clientID string, kv []any) Entry {
	e := Entry{
		Level:     level,
		Message:   message,
		ClientID:  clientID,
		CreatedAt: at.UTC(),
	}
	if len(kv) == 0 {
		return e
	}

	e.Attrs = make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		e.Attrs[key] = attrValue(kv[i+1])
	}
	return e
}

func attrValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x
	case time.Duration:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	case encoding.TextMarshaler:
		b, err := x.MarshalText()
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
