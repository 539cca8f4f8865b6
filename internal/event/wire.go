// SPDX-License-Identifier: MIT

package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event to its JSON wire form, one record per message.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: encode %s: %w", e.ID, err)
	}
	return data, nil
}

// Decode parses a wire payload back into an event. Malformed payloads are a
// recoverable condition on the subscribe path: callers skip them with a
// warning rather than terminating the stream.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("event: decode: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
