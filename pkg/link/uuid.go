package link

import (
	"fmt"
	"strings"
)

const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal form: lowercase, no
// dashes, no 0x prefix. 128-bit UUIDs in the Bluetooth SIG base format
// (0000xxxx-0000-1000-8000-00805f9b34fb) collapse to their 16-bit form.
// Returns "" when the input is not a 16-, 32- or 128-bit hex UUID.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}

	switch len(s) {
	case 4, 8:
		return s
	case 32:
		if strings.HasPrefix(s, "0000") && strings.HasSuffix(s, bluetoothBaseSuffix) {
			return s[4:8]
		}
		return s
	default:
		return ""
	}
}

// ParseChar validates and normalizes a characteristic UUID.
func ParseChar(uuid string) (CharID, error) {
	n := NormalizeUUID(uuid)
	if n == "" {
		return "", fmt.Errorf("invalid characteristic UUID %q", uuid)
	}
	return CharID(n), nil
}

// ParseService validates and normalizes a service UUID.
func ParseService(uuid string) (ServiceID, error) {
	n := NormalizeUUID(uuid)
	if n == "" {
		return "", fmt.Errorf("invalid service UUID %q", uuid)
	}
	return ServiceID(n), nil
}
