// Package link defines the packet link the belt protocol runs on: a set of
// addressable characteristics that can be written, read and subscribed to,
// with every outcome reported asynchronously through a Handler.
package link

import (
	"context"
	"strings"
)

// ServiceID is a normalized GATT service UUID (see NormalizeUUID).
type ServiceID string

// CharID is a normalized GATT characteristic UUID (see NormalizeUUID).
type CharID string

// Belt GATT layout.
const (
	ControlService ServiceID = "fe51"
	SensorService  ServiceID = "fe52"
	DebugService   ServiceID = "fe53"

	FirmwareInfoChar  CharID = "fe01"
	KeepAliveChar     CharID = "fe02"
	VibrationChar     CharID = "fe03"
	ButtonPressChar   CharID = "fe04"
	ParamRequestChar  CharID = "fe05"
	ParamNotifyChar   CharID = "fe06"
	BatteryStatusChar CharID = "fe09"
	OrientationChar   CharID = "fe0c"
	DebugInputChar    CharID = "fe13"
	DebugOutputChar   CharID = "fe14"
)

// Advertisement markers used to recognize a belt while scanning.
const (
	AdvertisedService ServiceID = "65333333a11511e29e9a0800200ca100"
	BeltNamePrefix              = "naviguertel"
)

// ServiceCharacteristics lists the characteristics to discover per belt service.
var ServiceCharacteristics = map[ServiceID][]CharID{
	ControlService: {
		FirmwareInfoChar, KeepAliveChar, VibrationChar, ButtonPressChar,
		ParamRequestChar, ParamNotifyChar, BatteryStatusChar,
	},
	SensorService: {OrientationChar},
	DebugService:  {DebugInputChar, DebugOutputChar},
}

// BeltServices returns the services a belt must expose, in discovery order.
func BeltServices() []ServiceID {
	return []ServiceID{ControlService, SensorService, DebugService}
}

// Handler receives the asynchronous outcome of every Link call plus
// unsolicited notifications. Implementations must not block.
type Handler interface {
	OnServicesDiscovered(services []ServiceID, err error)
	OnCharacteristicsDiscovered(service ServiceID, chars []CharID, err error)
	OnWriteAck(char CharID, err error)
	// OnValueUpdate is delivered both for read responses and notifications.
	OnValueUpdate(char CharID, value []byte, err error)
	OnSubscriptionAck(char CharID, err error)
	OnDisconnected(err error)
}

// Link is an established connection to one peripheral. Every call returns
// whether the request was accepted; the result arrives later on the Handler.
type Link interface {
	ID() string
	WriteValue(char CharID, value []byte) bool
	SetNotify(char CharID, enabled bool) bool
	ReadValue(char CharID) bool
	DiscoverServices(ids []ServiceID) bool
	DiscoverCharacteristics(service ServiceID, ids []CharID) bool
	Close() error
}

// TransportState mirrors the radio availability reported by the platform.
type TransportState int

const (
	StateUnknown TransportState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (s TransportState) String() string {
	switch s {
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "powered_off"
	case StatePoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// Peripheral describes a device seen while scanning or already connected.
type Peripheral struct {
	ID       string
	Name     string
	RSSI     int
	Services []ServiceID
}

// ScanFilter selects belts among advertising peripherals. A peripheral
// matches when its name contains NamePrefix (case-insensitive) or it
// advertises one of Services.
type ScanFilter struct {
	NamePrefix string
	Services   []ServiceID
}

// BeltFilter matches any naviGuertel belt.
func BeltFilter() ScanFilter {
	return ScanFilter{NamePrefix: BeltNamePrefix, Services: []ServiceID{AdvertisedService}}
}

// Match reports whether p passes the filter. An empty filter matches everything.
func (f ScanFilter) Match(p Peripheral) bool {
	if f.NamePrefix == "" && len(f.Services) == 0 {
		return true
	}
	if f.NamePrefix != "" && strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.NamePrefix)) {
		return true
	}
	for _, want := range f.Services {
		for _, got := range p.Services {
			if NormalizeUUID(string(want)) == NormalizeUUID(string(got)) {
				return true
			}
		}
	}
	return false
}

// Transport discovers peripherals and opens links to them.
type Transport interface {
	State() TransportState
	// WatchState calls fn on every state change until stop is called.
	WatchState(fn func(TransportState)) (stop func())
	// Scan blocks until ctx is done, calling found for each matching advertisement.
	Scan(ctx context.Context, filter ScanFilter, found func(Peripheral)) error
	// Connected lists matching peripherals already connected at the transport level.
	Connected(filter ScanFilter) []Peripheral
	// Connect dials the peripheral; h receives every callback of the returned Link.
	Connect(ctx context.Context, id string, h Handler) (Link, error)
}
