package goble

import (
	"fmt"
	"strings"

	"github.com/srg/beltctl/pkg/link"
)

const darwinPoweredOff = "central manager has invalid state: have=4 want=5: is Bluetooth turned on?"

// NormalizeError maps go-ble specific error strings to link errors and
// falls back to link.NormalizeError for the generic ones.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == darwinPoweredOff, containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", link.ErrPoweredOff, err)
	case containsIgnoreCase(msg, "have=2 want=5"):
		return fmt.Errorf("%w: %v", link.ErrUnsupported, err)
	case containsIgnoreCase(msg, "have=3 want=5"):
		return fmt.Errorf("%w: %v", link.ErrUnauthorized, err)
	case containsIgnoreCase(msg, "have=1 want=5"):
		return fmt.Errorf("%w: %v", link.ErrResetting, err)
	default:
		return link.NormalizeError(err)
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
