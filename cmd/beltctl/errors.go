package main

import (
	"errors"
	"fmt"

	"github.com/srg/beltctl/pkg/connection"
	"github.com/srg/beltctl/pkg/linkop"
	"github.com/srg/beltctl/pkg/session"
)

// Command-level errors
var (
	// ErrConnectionLost is returned when the belt disconnects while a
	// command is still running.
	ErrConnectionLost = errors.New("connection lost")
)

var kindHints = map[connection.Kind]string{
	connection.KindBTPoweredOff:           "turn Bluetooth on and try again",
	connection.KindBTUnauthorized:         "allow this terminal to use Bluetooth in the system privacy settings",
	connection.KindBTUnsupported:          "this computer has no Bluetooth Low Energy adapter",
	connection.KindNoBeltFound:            "switch the belt on and make sure it is not connected to a phone",
	connection.KindConnectionLimitReached: "disconnect another Bluetooth device and try again",
	connection.KindPairingFailed:          "remove the belt from the system Bluetooth devices and pair again",
	connection.KindHandshakeTimeout:       "the belt did not answer; restart the belt and try again",
	connection.KindPowerOff:               "the belt was switched off",
}

// FormatUserError turns an error into the message printed after "ERROR:".
// Classified connection failures get a hint.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var cerr *connection.Error
	if errors.As(err, &cerr) {
		if hint, ok := kindHints[cerr.Kind]; ok {
			return fmt.Sprintf("%s (%s)", cerr.Kind.String(), hint)
		}
		return err.Error()
	}

	var verr *session.ValidationError
	if errors.As(err, &verr) {
		return fmt.Sprintf("invalid %s: %v (%s)", verr.Field, verr.Value, verr.Reason)
	}

	switch {
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, ErrConnectionLost):
		return "the belt is not connected"
	case errors.Is(err, linkop.ErrTimeout):
		return fmt.Sprintf("%v (the belt did not answer in time)", err)
	case errors.Is(err, connection.ErrAttemptCancelled):
		return "connection attempt cancelled"
	}
	return err.Error()
}
