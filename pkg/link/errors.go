package link

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents a required GATT resource missing after discovery
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// TransportError reports that the radio is not usable in its current state
type TransportError struct {
	State TransportState
	Msg   string
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return "bluetooth " + e.State.String()
	}
	return fmt.Sprintf("bluetooth %s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare TransportError values by State
func (e *TransportError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for transport states
var (
	ErrPoweredOff   = &TransportError{State: StatePoweredOff}
	ErrUnauthorized = &TransportError{State: StateUnauthorized}
	ErrUnsupported  = &TransportError{State: StateUnsupported}
	ErrResetting    = &TransportError{State: StateResetting}
	ErrUnknownState = &TransportError{State: StateUnknown}
)

// Link-level errors
var (
	ErrNotConnected         = errors.New("not connected")
	ErrConnectionLimit      = errors.New("connection limit reached")
	ErrPeerDisconnected     = errors.New("disconnected by peer")
	ErrConnectionTimeout    = errors.New("connection timeout")
	ErrUnexpectedDisconnect = errors.New("unexpected disconnection")
)

// NormalizeError maps transport library error strings to the structured
// errors above, wrapping the original to keep its context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "powered off"), containsIgnoreCase(msg, "poweredoff"):
		return fmt.Errorf("%w: %v", ErrPoweredOff, err)
	case containsIgnoreCase(msg, "unauthorized"), containsIgnoreCase(msg, "not authorized"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case containsIgnoreCase(msg, "unsupported"), containsIgnoreCase(msg, "not supported"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	case containsIgnoreCase(msg, "resetting"):
		return fmt.Errorf("%w: %v", ErrResetting, err)
	case containsIgnoreCase(msg, "connection limit"), containsIgnoreCase(msg, "too many connections"):
		return fmt.Errorf("%w: %v", ErrConnectionLimit, err)
	case containsIgnoreCase(msg, "remote user terminated"), containsIgnoreCase(msg, "disconnected by peer"),
		containsIgnoreCase(msg, "peer removed"):
		return fmt.Errorf("%w: %v", ErrPeerDisconnected, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// StateFromError extracts the transport state carried by err, if any.
func StateFromError(err error) (TransportState, bool) {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr.State, true
	}
	return StateUnknown, false
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
