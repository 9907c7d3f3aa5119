package sender

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// EncodeBody renders a notification body as message text for any channel.
// Strings pass through, byte slices must be UTF-8, nil is empty and anything else is JSON-encoded.
func EncodeBody(body any) (string, error) {
	switch b := body.(type) {
	case string:
		return b, nil
	case []byte:
		if !utf8.Valid(b) {
			return "", fmt.Errorf("body is not valid UTF-8")
		}
		return string(b), nil
	case nil:
		return "", nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return "", fmt.Errorf("failed to encode body: %w", err)
		}
		return string(encoded), nil
	}
}
