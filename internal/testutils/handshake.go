//go:build test

package testutils

import (
	"github.com/srg/beltctl/internal/link/linktest"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
)

// SubscribedChars are the characteristics a session subscribes to during
// setup, in subscription order.
var SubscribedChars = []link.CharID{
	link.KeepAliveChar,
	link.ButtonPressChar,
	link.ParamNotifyChar,
	link.BatteryStatusChar,
	link.DebugOutputChar,
}

// AnswerDiscovery reports the full belt GATT layout on l.
func AnswerDiscovery(l *linktest.Link) {
	l.DiscoveredServices(link.BeltServices(), nil)
	for _, svc := range link.BeltServices() {
		l.DiscoveredCharacteristics(svc, link.ServiceCharacteristics[svc], nil)
	}
}

// AckSubscriptions acknowledges every setup subscription on l.
func AckSubscriptions(l *linktest.Link) {
	for _, c := range SubscribedChars {
		l.AckNotify(c, nil)
	}
}

// AnswerParam acknowledges the running parameter request on l and
// notifies value.
func AnswerParam(l *linktest.Link, value ...byte) {
	l.AckWrite(link.ParamRequestChar, nil)
	l.Notify(link.ParamNotifyChar, value)
}

// AnswerHandshake answers the handshake reads and requests, reporting the
// belt in mode with a default intensity of 50.
func AnswerHandshake(l *linktest.Link, mode codec.Mode) {
	l.Notify(link.FirmwareInfoChar, []byte{42})
	l.Notify(link.BatteryStatusChar, []byte{0x01, 0x00, 0x40, 0x00, 0x00})
	AnswerParam(l, 0x01, byte(codec.ParamIntensity), 50)
	AnswerParam(l, 0x01, byte(codec.ParamMode), byte(mode))
	AnswerParam(l, 0x01, byte(codec.ParamHeadingOffset), 0x0A, 0x00)
}

// CompleteSetup drives l from discovery to a finished handshake.
func CompleteSetup(l *linktest.Link, mode codec.Mode) {
	AnswerDiscovery(l)
	AckSubscriptions(l)
	AnswerHandshake(l, mode)
}
