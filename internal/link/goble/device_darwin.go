//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/srg/beltctl/pkg/link"
)

func newPlatformDevice() (ble.Device, error) {
	return darwin.NewDevice()
}

// CoreBluetooth only reports its state through device creation and scan errors.
func probePower() (link.TransportState, bool) {
	return link.StateUnknown, false
}
