package decode

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// BSSID decodes a base64-encoded 48-bit access point MAC address and renders
// it as colon-separated lowercase hex. Padding is repaired before decoding.
func BSSID(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("empty BSSID input")
	}

	if pad := len(encoded) % 4; pad != 0 {
		encoded += strings.Repeat("=", 4-pad)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding BSSID: %w", err)
	}
	if len(raw) != 6 {
		return "", fmt.Errorf("BSSID decoded to %d bytes, want 6", len(raw))
	}

	parts := make([]string, 6)
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":"), nil
}
