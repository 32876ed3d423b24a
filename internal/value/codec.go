package value

import (
	"encoding/json"
	"fmt"
)

// Encode serializes v for the session store.
func Encode(v Value) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", v.Type, err)
	}
	return data, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	if _, err := ParseType(v.Type); err != nil {
		return Value{}, err
	}
	return v, nil
}
