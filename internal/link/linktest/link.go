// Package linktest provides in-memory link.Link and link.Transport fakes
// that record every request and let tests deliver belt events by hand.
package linktest

import (
	"sync"

	"github.com/srg/beltctl/pkg/link"
)

// CallKind identifies a recorded Link request.
type CallKind string

const (
	CallWrite                   CallKind = "write"
	CallRead                    CallKind = "read"
	CallSetNotify               CallKind = "notify"
	CallDiscoverServices        CallKind = "discover-services"
	CallDiscoverCharacteristics CallKind = "discover-characteristics"
)

// Call is one recorded request.
type Call struct {
	Kind    CallKind
	Char    link.CharID
	Service link.ServiceID
	Value   []byte
	Enabled bool
}

// Link is a fake link.Link. Requests are recorded and accepted unless
// rejected with Reject. Responses are never generated automatically.
type Link struct {
	id string

	mu       sync.Mutex
	calls    []Call
	rejected map[CallKind]bool
	closed   bool
	handler  link.Handler
}

// NewLink creates a fake link with the given peripheral identifier.
func NewLink(id string) *Link {
	return &Link{id: id, rejected: make(map[CallKind]bool)}
}

// SetHandler sets the handler used by the Deliver helpers.
func (l *Link) SetHandler(h link.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// Reject makes every future request of kind return false.
func (l *Link) Reject(kind CallKind, rejected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejected[kind] = rejected
}

func (l *Link) ID() string { return l.id }

func (l *Link) record(c Call) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.rejected[c.Kind] {
		return false
	}
	c.Value = append([]byte(nil), c.Value...)
	l.calls = append(l.calls, c)
	return true
}

func (l *Link) WriteValue(char link.CharID, value []byte) bool {
	return l.record(Call{Kind: CallWrite, Char: char, Value: value})
}

func (l *Link) SetNotify(char link.CharID, enabled bool) bool {
	return l.record(Call{Kind: CallSetNotify, Char: char, Enabled: enabled})
}

func (l *Link) ReadValue(char link.CharID) bool {
	return l.record(Call{Kind: CallRead, Char: char})
}

func (l *Link) DiscoverServices([]link.ServiceID) bool {
	return l.record(Call{Kind: CallDiscoverServices})
}

func (l *Link) DiscoverCharacteristics(service link.ServiceID, _ []link.CharID) bool {
	return l.record(Call{Kind: CallDiscoverCharacteristics, Service: service})
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Closed reports whether Close was called.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Calls returns a copy of the recorded requests.
func (l *Link) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Writes returns the values written to char, in order.
func (l *Link) Writes(char link.CharID) [][]byte {
	var out [][]byte
	for _, c := range l.Calls() {
		if c.Kind == CallWrite && c.Char == char {
			out = append(out, c.Value)
		}
	}
	return out
}

// LastCall returns the most recent request.
func (l *Link) LastCall() (Call, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		return Call{}, false
	}
	return l.calls[len(l.calls)-1], true
}

// Reset forgets recorded requests.
func (l *Link) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

func (l *Link) h() link.Handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler
}

// AckWrite delivers a write acknowledgement.
func (l *Link) AckWrite(char link.CharID, err error) { l.h().OnWriteAck(char, err) }

// AckNotify delivers a subscription acknowledgement.
func (l *Link) AckNotify(char link.CharID, err error) { l.h().OnSubscriptionAck(char, err) }

// Notify delivers a value update.
func (l *Link) Notify(char link.CharID, value []byte) { l.h().OnValueUpdate(char, value, nil) }

// DiscoveredServices delivers a service discovery result.
func (l *Link) DiscoveredServices(services []link.ServiceID, err error) {
	l.h().OnServicesDiscovered(services, err)
}

// DiscoveredCharacteristics delivers a characteristic discovery result.
func (l *Link) DiscoveredCharacteristics(service link.ServiceID, chars []link.CharID, err error) {
	l.h().OnCharacteristicsDiscovered(service, chars, err)
}

// Disconnect delivers a disconnection.
func (l *Link) Disconnect(err error) { l.h().OnDisconnected(err) }
