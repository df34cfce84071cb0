package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidateMediaState checks that raw is a JSON object whose currentTime is a
// number and whose isPlaying is a boolean. Other fields are not inspected.
func ValidateMediaState(raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("%w: mediaState is required", ErrInvalidSyncPayload)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("%w: mediaState must be an object", ErrInvalidSyncPayload)
	}

	var position float64
	if err := decodeField(fields, "currentTime", &position); err != nil {
		return err
	}
	var playing bool
	if err := decodeField(fields, "isPlaying", &playing); err != nil {
		return err
	}
	return nil
}

func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	value, ok := fields[name]
	if !ok || bytes.Equal(value, []byte("null")) {
		return fmt.Errorf("%w: %s is required", ErrInvalidSyncPayload, name)
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return fmt.Errorf("%w: %s has the wrong type", ErrInvalidSyncPayload, name)
	}
	return nil
}
