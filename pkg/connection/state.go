package connection

import (
	"time"

	"github.com/google/uuid"
	"github.com/srg/beltctl/pkg/link"
)

// State is the connection state of the manager.
type State int

const (
	NotConnected State = iota
	Initializing
	Scanning
	Connecting
	DiscoveringServices
	Handshake
	Connected
	Reconnecting
)

var stateNames = map[State]string{
	NotConnected:        "not_connected",
	Initializing:        "initializing",
	Scanning:            "scanning",
	Connecting:          "connecting",
	DiscoveringServices: "discovering_services",
	Handshake:           "handshake",
	Connected:           "connected",
	Reconnecting:        "reconnecting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// establishing reports whether s is covered by the connect timer.
func (s State) establishing() bool {
	switch s {
	case Connecting, DiscoveringServices, Handshake, Reconnecting:
		return true
	}
	return false
}

// Cause tells why an Event was emitted.
type Cause int

const (
	CauseConnectionStarted Cause = iota
	CauseConnectionEstablished
	CauseServicesDiscovered
	CauseHandshakeFinished
	CauseConnectionClosed
	CauseConnectionLost
	CauseConnectionFailed
	CauseServiceDiscoveryFailed
	CauseHandshakeFailed
	CauseReconnectionStarted
	CauseReconnectionFailed
	CauseScanStarted
	CauseScanFinished
	CauseWaitingForTransport
	CauseTransportUnavailable
	// CausePeripheralFound reports a belt seen while scanning. The state
	// does not change.
	CausePeripheralFound
)

var causeNames = map[Cause]string{
	CauseConnectionStarted:      "connection_started",
	CauseConnectionEstablished:  "connection_established",
	CauseServicesDiscovered:     "services_discovered",
	CauseHandshakeFinished:      "handshake_finished",
	CauseConnectionClosed:       "connection_closed",
	CauseConnectionLost:         "connection_lost",
	CauseConnectionFailed:       "connection_failed",
	CauseServiceDiscoveryFailed: "service_discovery_failed",
	CauseHandshakeFailed:        "handshake_failed",
	CauseReconnectionStarted:    "reconnection_started",
	CauseReconnectionFailed:     "reconnection_failed",
	CauseScanStarted:            "scan_started",
	CauseScanFinished:           "scan_finished",
	CauseWaitingForTransport:    "waiting_for_transport",
	CauseTransportUnavailable:   "transport_unavailable",
	CausePeripheralFound:        "peripheral_found",
}

func (c Cause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	return "unknown"
}

// Event is one state transition of a connection attempt.
type Event struct {
	// AttemptID identifies the Scan, Connect or SearchAndConnect call the
	// transition belongs to.
	AttemptID uuid.UUID
	Previous  State
	State     State
	Cause     Cause
	// Err classifies the failure that ended the attempt; nil for a
	// requested disconnect or a successful step.
	Err        *Error
	Peripheral link.Peripheral
	Time       time.Time
}

// Terminal reports whether ev ends its attempt.
func (ev Event) Terminal() bool {
	return ev.State == Connected || ev.State == NotConnected
}
