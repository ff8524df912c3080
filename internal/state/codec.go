package state

import (
	"encoding/json"
	"fmt"
)

// GetJSON decodes the value at key into v. It reports false when the key is absent.
func GetJSON(r Reader, key []byte, v any) (bool, error) {
	raw, err := r.Get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %x: %w", key, err)
	}
	return true, nil
}

func PutJSON(w ReadWriter, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %x: %w", key, err)
	}
	return w.Set(key, raw)
}
