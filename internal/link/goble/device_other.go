//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/beltctl/pkg/link"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, link.ErrUnsupported
}

func probePower() (link.TransportState, bool) {
	return link.StateUnsupported, true
}
