package linktest

import (
	"context"
	"sync"

	"github.com/srg/beltctl/pkg/link"
)

// Transport is a fake link.Transport. Scans block until their context is
// done; Advertise feeds peripherals to running scans.
type Transport struct {
	mu         sync.Mutex
	state      link.TransportState
	watchers   map[int]func(link.TransportState)
	nextWatch  int
	scans      map[int]scan
	nextScan   int
	connected  []link.Peripheral
	connectErr map[string]error
	links      map[string]*Link
	dials      []string
}

type scan struct {
	filter link.ScanFilter
	found  func(link.Peripheral)
}

// NewTransport creates a fake transport in the given state.
func NewTransport(state link.TransportState) *Transport {
	return &Transport{
		state:      state,
		watchers:   make(map[int]func(link.TransportState)),
		scans:      make(map[int]scan),
		connectErr: make(map[string]error),
		links:      make(map[string]*Link),
	}
}

func (t *Transport) State() link.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState changes the state and notifies watchers.
func (t *Transport) SetState(s link.TransportState) {
	t.mu.Lock()
	t.state = s
	watchers := make([]func(link.TransportState), 0, len(t.watchers))
	for _, w := range t.watchers {
		watchers = append(watchers, w)
	}
	t.mu.Unlock()
	for _, w := range watchers {
		w(s)
	}
}

func (t *Transport) WatchState(fn func(link.TransportState)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextWatch
	t.nextWatch++
	t.watchers[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.watchers, id)
	}
}

func (t *Transport) Scan(ctx context.Context, filter link.ScanFilter, found func(link.Peripheral)) error {
	t.mu.Lock()
	if t.state != link.StatePoweredOn {
		err := &link.TransportError{State: t.state}
		t.mu.Unlock()
		return err
	}
	id := t.nextScan
	t.nextScan++
	t.scans[id] = scan{filter: filter, found: found}
	t.mu.Unlock()

	<-ctx.Done()

	t.mu.Lock()
	delete(t.scans, id)
	t.mu.Unlock()
	return nil
}

// Scanning reports whether a Scan call is active.
func (t *Transport) Scanning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.scans) > 0
}

// Advertise delivers p to every active scan whose filter matches.
func (t *Transport) Advertise(p link.Peripheral) {
	t.mu.Lock()
	var targets []func(link.Peripheral)
	for _, s := range t.scans {
		if s.filter.Match(p) {
			targets = append(targets, s.found)
		}
	}
	t.mu.Unlock()
	for _, found := range targets {
		found(p)
	}
}

// SetConnected sets the peripherals reported by Connected.
func (t *Transport) SetConnected(ps ...link.Peripheral) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = ps
}

func (t *Transport) Connected(filter link.ScanFilter) []link.Peripheral {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []link.Peripheral
	for _, p := range t.connected {
		if filter.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// FailConnect makes Connect to id return err; nil clears it.
func (t *Transport) FailConnect(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.connectErr, id)
		return
	}
	t.connectErr[id] = err
}

func (t *Transport) Connect(ctx context.Context, id string, h link.Handler) (link.Link, error) {
	t.mu.Lock()
	t.dials = append(t.dials, id)
	if err := t.connectErr[id]; err != nil {
		t.mu.Unlock()
		return nil, err
	}
	l := NewLink(id)
	l.SetHandler(h)
	t.links[id] = l
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// Link returns the last link opened to id.
func (t *Transport) Link(id string) *Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[id]
}

// Dials returns the identifiers passed to Connect, in order.
func (t *Transport) Dials() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dials...)
}
