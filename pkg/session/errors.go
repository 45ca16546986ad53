package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by every request while the session is
	// not in the connected phase.
	ErrNotConnected = errors.New("belt not connected")
	// ErrUnavailable is returned when the characteristic a request needs
	// was not discovered on the belt.
	ErrUnavailable = errors.New("belt characteristic not available")
)

// ValidationError reports an out-of-range request argument. Nothing is
// sent to the belt when it is returned.
type ValidationError struct {
	Op     string
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid %s %v: %s", e.Op, e.Field, e.Value, e.Reason)
}

func invalid(op, field string, value any, reason string) error {
	return &ValidationError{Op: op, Field: field, Value: value, Reason: reason}
}

// Stage identifies the part of connection setup a SetupError comes from.
type Stage int

const (
	// StageDiscovery covers service and characteristic discovery.
	StageDiscovery Stage = iota
	// StageHandshake covers notification subscriptions and the initial reads.
	StageHandshake
)

func (s Stage) String() string {
	if s == StageDiscovery {
		return "service discovery"
	}
	return "handshake"
}

// SetupError is reported through Hooks.HandshakeFinished when the session
// could not bring a freshly attached link to the connected phase.
type SetupError struct {
	Stage Stage
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
