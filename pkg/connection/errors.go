package connection

import (
	"errors"
	"fmt"

	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
)

// Kind classifies a connection failure.
type Kind int

const (
	KindBTPoweredOff Kind = iota + 1
	KindBTUnauthorized
	KindBTUnsupported
	KindBTStateUnknown
	KindBTStateResetting
	KindNoBeltFound
	// KindSearchFinished ends a listing scan. It is not a failure.
	KindSearchFinished
	KindConnectionTimeout
	KindServiceDiscoveryTimeout
	KindHandshakeTimeout
	KindReconnectionTimeout
	KindConnectionFailed
	KindConnectionLimitReached
	KindServiceDiscoveryFailed
	KindHandshakeFailed
	KindPairingFailed
	KindPowerOff
	KindPeripheralDisconnected
	KindUnexpectedDisconnection
)

var kindInfo = map[Kind]struct{ name, msg string }{
	KindBTPoweredOff:            {"bt_powered_off", "bluetooth is powered off"},
	KindBTUnauthorized:          {"bt_unauthorized", "bluetooth use is not authorized"},
	KindBTUnsupported:           {"bt_unsupported", "bluetooth low energy is not supported"},
	KindBTStateUnknown:          {"bt_state_unknown", "bluetooth state stayed unknown"},
	KindBTStateResetting:        {"bt_state_resetting", "bluetooth kept resetting"},
	KindNoBeltFound:             {"no_belt_found", "no belt found"},
	KindSearchFinished:          {"search_finished", "search finished"},
	KindConnectionTimeout:       {"connection_timeout", "connection timed out"},
	KindServiceDiscoveryTimeout: {"service_discovery_timeout", "service discovery timed out"},
	KindHandshakeTimeout:        {"handshake_timeout", "handshake timed out"},
	KindReconnectionTimeout:     {"reconnection_timeout", "reconnection timed out"},
	KindConnectionFailed:        {"connection_failed", "connection failed"},
	KindConnectionLimitReached:  {"connection_limit_reached", "connection limit reached"},
	KindServiceDiscoveryFailed:  {"service_discovery_failed", "belt services not found"},
	KindHandshakeFailed:         {"handshake_failed", "belt handshake failed"},
	KindPairingFailed:           {"pairing_failed", "pairing likely failed"},
	KindPowerOff:                {"power_off", "belt was switched off"},
	KindPeripheralDisconnected:  {"peripheral_disconnected", "belt closed the connection"},
	KindUnexpectedDisconnection: {"unexpected_disconnection", "connection lost"},
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsTransportAvailability reports whether k is about the radio itself.
func (k Kind) IsTransportAvailability() bool {
	switch k {
	case KindBTPoweredOff, KindBTUnauthorized, KindBTUnsupported, KindBTStateUnknown, KindBTStateResetting:
		return true
	}
	return false
}

func (k Kind) IsTimeout() bool {
	switch k {
	case KindConnectionTimeout, KindServiceDiscoveryTimeout, KindHandshakeTimeout,
		KindReconnectionTimeout, KindNoBeltFound:
		return true
	}
	return false
}

func (k Kind) IsProtocol() bool {
	return k == KindServiceDiscoveryFailed || k == KindHandshakeFailed
}

func (k Kind) IsDisconnection() bool {
	switch k {
	case KindPairingFailed, KindPowerOff, KindPeripheralDisconnected,
		KindUnexpectedDisconnection, KindConnectionLimitReached:
		return true
	}
	return false
}

// IsNeutral reports whether k ends an attempt without a failure.
func (k Kind) IsNeutral() bool {
	return k == KindSearchFinished
}

// Error is a classified connection failure.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if info, ok := kindInfo[e.Kind]; ok {
		msg = info.msg
	}
	if e.Cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches any *Error of the same Kind, so errors.Is(err,
// &Error{Kind: KindPowerOff}) works without a cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// KindOf returns the classification carried by err.
func KindOf(err error) (Kind, bool) {
	var cerr *Error
	if errors.As(err, &cerr) && cerr != nil {
		return cerr.Kind, true
	}
	return 0, false
}

// transportKind classifies an unusable transport state.
func transportKind(s link.TransportState) Kind {
	switch s {
	case link.StatePoweredOff:
		return KindBTPoweredOff
	case link.StateUnauthorized:
		return KindBTUnauthorized
	case link.StateUnsupported:
		return KindBTUnsupported
	case link.StateResetting:
		return KindBTStateResetting
	default:
		return KindBTStateUnknown
	}
}

// unusable reports whether s fails an attempt immediately.
func unusable(s link.TransportState) bool {
	return s == link.StatePoweredOff || s == link.StateUnauthorized || s == link.StateUnsupported
}

// dialKind classifies a failed Connect call.
func dialKind(err error) Kind {
	if errors.Is(err, link.ErrConnectionLimit) {
		return KindConnectionLimitReached
	}
	if st, ok := link.StateFromError(err); ok && st != link.StatePoweredOn {
		return transportKind(st)
	}
	return KindConnectionFailed
}

// timeoutKind classifies the connect timer firing in s.
func timeoutKind(s State) Kind {
	switch s {
	case DiscoveringServices:
		return KindServiceDiscoveryTimeout
	case Handshake:
		return KindHandshakeTimeout
	case Reconnecting:
		return KindReconnectionTimeout
	default:
		return KindConnectionTimeout
	}
}

// disconnectKind classifies an unrequested link loss. A belt that never
// completed a handshake and drops during setup most likely refused the
// pairing; a belt last seen in standby was switched off.
func disconnectKind(s State, mode codec.Mode, previouslyConnected bool, err error) Kind {
	if !previouslyConnected && (s == Connecting || s == DiscoveringServices || s == Handshake) {
		return KindPairingFailed
	}
	if mode == codec.ModeStandby {
		return KindPowerOff
	}
	switch {
	case errors.Is(err, link.ErrPeerDisconnected):
		return KindPeripheralDisconnected
	case errors.Is(err, link.ErrConnectionLimit):
		return KindConnectionLimitReached
	}
	return KindUnexpectedDisconnection
}
