//go:build test

package testutils

import (
	"bytes"
	"sync"
	"time"

	"github.com/srg/beltctl/internal/link/linktest"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
)

// FakeBelt plays the belt side of a linktest.Transport from a goroutine,
// for tests that drive blocking APIs:
//   - advertises Peripheral while a scan runs;
//   - completes setup on every new link with CompleteSetup;
//   - acknowledges later writes and subscriptions;
//   - answers parameter requests and confirms mode changes.
//
// Basic usage:
//
//	belt := &testutils.FakeBelt{Transport: s.Transport, Peripheral: s.Belt, Mode: codec.ModeWait}
//	belt.Start()
//	defer belt.Stop()
type FakeBelt struct {
	Transport  *linktest.Transport
	Peripheral link.Peripheral
	Mode       codec.Mode
	// OnWrite is called after a write made after setup was acknowledged.
	OnWrite func(l *linktest.Link, char link.CharID, value []byte)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Start runs the belt until Stop.
func (b *FakeBelt) Start() {
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.run()
}

// Stop ends the belt goroutine and waits for it.
func (b *FakeBelt) Stop() {
	close(b.stop)
	<-b.done
}

// CurrentMode returns the mode the belt is in.
func (b *FakeBelt) CurrentMode() codec.Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Mode
}

func (b *FakeBelt) run() {
	defer close(b.done)

	var (
		current *linktest.Link
		next    int
	)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		}

		if b.Transport.Scanning() {
			b.Transport.Advertise(b.Peripheral)
		}
		l := b.Transport.Link(b.Peripheral.ID)
		if l == nil || l.Closed() {
			continue
		}
		if l != current {
			if !hasCall(l.Calls(), linktest.CallDiscoverServices) {
				continue
			}
			CompleteSetup(l, b.CurrentMode())
			current, next = l, SetupEnd(l.Calls())
		}

		calls := l.Calls()
		for ; next < len(calls); next++ {
			b.answer(l, calls[next])
		}
	}
}

func (b *FakeBelt) answer(l *linktest.Link, c linktest.Call) {
	switch c.Kind {
	case linktest.CallSetNotify:
		l.AckNotify(c.Char, nil)
	case linktest.CallWrite:
		if c.Char == link.ParamRequestChar {
			b.applyParam(c.Value)
		}
		l.AckWrite(c.Char, nil)
		if c.Char == link.ParamRequestChar {
			b.answerParam(l, c.Value)
		}
		if b.OnWrite != nil {
			b.OnWrite(l, c.Char, c.Value)
		}
	}
}

// applyParam records a mode change before it is acknowledged.
func (b *FakeBelt) applyParam(request []byte) {
	if isSetMode(request) {
		b.mu.Lock()
		b.Mode = codec.Mode(request[2])
		b.mu.Unlock()
	}
}

// answerParam notifies the value of a parameter get, or the new mode of a
// mode change.
func (b *FakeBelt) answerParam(l *linktest.Link, request []byte) {
	switch {
	case bytes.Equal(request, codec.EncodeParamGet(codec.ParamMode)):
		l.Notify(link.ParamNotifyChar, []byte{0x01, byte(codec.ParamMode), byte(b.CurrentMode())})
	case bytes.Equal(request, codec.EncodeParamGet(codec.ParamIntensity)):
		l.Notify(link.ParamNotifyChar, []byte{0x01, byte(codec.ParamIntensity), 50})
	case bytes.Equal(request, codec.EncodeParamGet(codec.ParamHeadingOffset)):
		l.Notify(link.ParamNotifyChar, []byte{0x01, byte(codec.ParamHeadingOffset), 0x0A, 0x00})
	case bytes.Equal(request, codec.EncodeParamGet(codec.ParamCompassAccuracySignal)):
		l.Notify(link.ParamNotifyChar, []byte{0x01, byte(codec.ParamCompassAccuracySignal), 0x01})
	case isSetMode(request):
		l.Notify(link.ParamNotifyChar, []byte{0x01, byte(codec.ParamMode), request[2]})
	}
}

func isSetMode(request []byte) bool {
	return len(request) >= 3 && bytes.Equal(request[:2], codec.EncodeSetMode(codec.ModeWait)[:2])
}

func hasCall(calls []linktest.Call, kind linktest.CallKind) bool {
	for _, c := range calls {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// SetupEnd is the index after the last request answered by
// AnswerHandshake. Requests sent once the belt is connected follow it.
func SetupEnd(calls []linktest.Call) int {
	last := codec.EncodeParamGet(codec.ParamHeadingOffset)
	for i, c := range calls {
		if c.Kind == linktest.CallWrite && c.Char == link.ParamRequestChar && bytes.Equal(c.Value, last) {
			return i + 1
		}
	}
	return len(calls)
}
