package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test overrides as goble.DeviceFactory
var DeviceFactory = newPlatformDevice

// advertisement is the part of ble.Advertisement the scanner reads.
type advertisement interface {
	LocalName() string
	Services() []ble.UUID
	RSSI() int
	Addr() ble.Addr
}

// gattClient is the part of ble.Client a Link drives.
type gattClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// radio is the part of ble.Device the Transport drives.
type radio interface {
	Scan(ctx context.Context, allowDup bool, h func(advertisement)) error
	Dial(ctx context.Context, addr string) (gattClient, error)
}

// deviceRadio adapts a ble.Device to radio.
type deviceRadio struct {
	dev ble.Device
}

func (r deviceRadio) Scan(ctx context.Context, allowDup bool, h func(advertisement)) error {
	return r.dev.Scan(ctx, allowDup, func(a ble.Advertisement) { h(a) })
}

func (r deviceRadio) Dial(ctx context.Context, addr string) (gattClient, error) {
	client, err := r.dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func openRadio() (radio, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	return deviceRadio{dev: dev}, nil
}
