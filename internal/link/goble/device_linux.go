//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/godbus/dbus/v5"
	"github.com/srg/beltctl/pkg/link"
)

const (
	bluezBusName      = "org.bluez"
	bluezAdapterPath  = "/org/bluez/hci0"
	bluezAdapterIface = "org.bluez.Adapter1"
)

func newPlatformDevice() (ble.Device, error) {
	return linux.NewDevice()
}

// probePower asks BlueZ whether the default adapter is powered. go-ble
// talks HCI directly, so a powered-off adapter is otherwise only visible
// as an opaque scan failure.
func probePower() (link.TransportState, bool) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return link.StateUnknown, false
	}
	defer conn.Close()

	obj := conn.Object(bluezBusName, dbus.ObjectPath(bluezAdapterPath))
	v, err := obj.GetProperty(bluezAdapterIface + ".Powered")
	if err != nil {
		return link.StateUnsupported, true
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return link.StateUnknown, false
	}
	if !powered {
		return link.StatePoweredOff, true
	}
	return link.StatePoweredOn, true
}
