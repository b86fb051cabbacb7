package pipeline

import (
	"encoding/json"
	"strings"
)

// hexFields is the ordered probe list for JSON payloads: richest field name
// first, falling back toward generic names.
var hexFields = []string{"raw", "packet", "packetHex", "payloadHex", "hex", "data"}

// ExtractPacketHex pulls a hex-encoded packet string out of a raw subscribed
// payload. JSON payloads are probed field by field; anything else is treated
// as a bare hex string after trimming. Returns "" when no valid candidate
// exists.
func ExtractPacketHex(payload []byte) string {
	var parsed any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		candidate := strings.TrimSpace(string(payload))
		if isHex(candidate) {
			return candidate
		}
		return ""
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return ""
	}

	for _, field := range hexFields {
		if candidate, ok := obj[field].(string); ok && isHex(candidate) {
			return candidate
		}
	}
	return ""
}

// isHex reports whether s is a non-empty, even-length string of hex digits.
func isHex(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
