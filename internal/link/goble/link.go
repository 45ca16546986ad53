package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/internal/groutine"
	"github.com/srg/beltctl/pkg/link"
)

// DefaultJobBuffer bounds the GATT requests waiting for the worker.
const DefaultJobBuffer = 64

// Link is a link.Link over a go-ble client. go-ble calls block, so every
// request is queued to a single worker goroutine which reports the outcome
// to the handler in submission order.
type Link struct {
	id      string
	client  gattClient
	handler link.Handler
	logger  *logrus.Logger

	jobs   chan func()
	ctx    context.Context
	cancel context.CancelFunc
	onDone func()

	mu       sync.Mutex
	closed   bool
	services map[link.ServiceID]*ble.Service
	chars    map[link.CharID]*ble.Characteristic
}

func newLink(id string, client gattClient, h link.Handler, logger *logrus.Logger, onDone func()) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		id:       id,
		client:   client,
		handler:  h,
		logger:   logger,
		jobs:     make(chan func(), DefaultJobBuffer),
		ctx:      ctx,
		cancel:   cancel,
		onDone:   onDone,
		services: make(map[link.ServiceID]*ble.Service),
		chars:    make(map[link.CharID]*ble.Characteristic),
	}

	groutine.Go(ctx, "belt-gatt", l.run)
	groutine.Go(ctx, "belt-connection-monitor", l.monitor)
	return l
}

func (l *Link) ID() string { return l.id }

func (l *Link) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-l.jobs:
			job()
		}
	}
}

// monitor reports a disconnection we did not ask for.
func (l *Link) monitor(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-l.client.Disconnected():
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.logger.WithField("belt", l.id).Warn("Belt disconnected")
	l.cancel()
	if l.onDone != nil {
		l.onDone()
	}
	l.handler.OnDisconnected(link.ErrUnexpectedDisconnect)
}

// submit queues job without blocking; false when the link is closed or
// the queue is full.
func (l *Link) submit(job func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.jobs <- job:
		return true
	default:
		l.logger.WithField("belt", l.id).Warn("GATT request queue full, dropping request")
		return false
	}
}

func (l *Link) char(id link.CharID) (*ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chars[id]
	if !ok {
		return nil, &link.NotFoundError{Resource: "characteristic", UUIDs: []string{string(id)}}
	}
	return c, nil
}

func (l *Link) WriteValue(char link.CharID, value []byte) bool {
	data := append([]byte(nil), value...)
	return l.submit(func() {
		c, err := l.char(char)
		if err == nil {
			noRsp := c.Property&ble.CharWrite == 0 && c.Property&ble.CharWriteNR != 0
			err = NormalizeError(l.client.WriteCharacteristic(c, data, noRsp))
		}
		if err != nil {
			l.logger.WithFields(logrus.Fields{"char": char, "error": err}).Debug("Write failed")
		}
		l.handler.OnWriteAck(char, err)
	})
}

func (l *Link) ReadValue(char link.CharID) bool {
	return l.submit(func() {
		c, err := l.char(char)
		var value []byte
		if err == nil {
			value, err = l.client.ReadCharacteristic(c)
			err = NormalizeError(err)
		}
		l.handler.OnValueUpdate(char, value, err)
	})
}

func (l *Link) SetNotify(char link.CharID, enabled bool) bool {
	return l.submit(func() {
		c, err := l.char(char)
		if err != nil {
			l.handler.OnSubscriptionAck(char, err)
			return
		}
		ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
		if enabled {
			err = l.client.Subscribe(c, ind, func(data []byte) {
				l.handler.OnValueUpdate(char, append([]byte(nil), data...), nil)
			})
		} else {
			err = l.client.Unsubscribe(c, ind)
		}
		l.handler.OnSubscriptionAck(char, NormalizeError(err))
	})
}

func (l *Link) DiscoverServices(ids []link.ServiceID) bool {
	filter, err := parseUUIDs(ids)
	return l.submit(func() {
		if err != nil {
			l.handler.OnServicesDiscovered(nil, err)
			return
		}
		svcs, err := l.client.DiscoverServices(filter)
		if err != nil {
			l.handler.OnServicesDiscovered(nil, NormalizeError(err))
			return
		}

		found := make([]link.ServiceID, 0, len(svcs))
		l.mu.Lock()
		for _, s := range svcs {
			id := link.ServiceID(link.NormalizeUUID(s.UUID.String()))
			l.services[id] = s
			found = append(found, id)
		}
		l.mu.Unlock()

		l.logger.WithFields(logrus.Fields{"belt": l.id, "services": len(found)}).Debug("Services discovered")
		l.handler.OnServicesDiscovered(found, nil)
	})
}

func (l *Link) DiscoverCharacteristics(service link.ServiceID, ids []link.CharID) bool {
	filter, err := parseUUIDs(ids)
	return l.submit(func() {
		if err != nil {
			l.handler.OnCharacteristicsDiscovered(service, nil, err)
			return
		}

		l.mu.Lock()
		svc, ok := l.services[service]
		l.mu.Unlock()
		if !ok {
			l.handler.OnCharacteristicsDiscovered(service, nil,
				&link.NotFoundError{Resource: "service", UUIDs: []string{string(service)}})
			return
		}

		chars, err := l.client.DiscoverCharacteristics(filter, svc)
		if err != nil {
			l.handler.OnCharacteristicsDiscovered(service, nil, NormalizeError(err))
			return
		}

		found := make([]link.CharID, 0, len(chars))
		for _, c := range chars {
			// Subscribing needs the CCCD, which only descriptor discovery fills in.
			if c.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
				if _, err := l.client.DiscoverDescriptors(nil, c); err != nil {
					l.logger.WithFields(logrus.Fields{"char": c.UUID.String(), "error": err}).Debug("Descriptor discovery failed")
				}
			}
			id := link.CharID(link.NormalizeUUID(c.UUID.String()))
			l.mu.Lock()
			l.chars[id] = c
			l.mu.Unlock()
			found = append(found, id)
		}
		l.handler.OnCharacteristicsDiscovered(service, found, nil)
	})
}

// Close drops the connection. No OnDisconnected is reported for it.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	if l.onDone != nil {
		l.onDone()
	}
	l.logger.WithField("belt", l.id).Debug("Closing belt connection")
	return NormalizeError(l.client.CancelConnection())
}

func parseUUIDs[T ~string](ids []T) ([]ble.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := ble.Parse(string(id))
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
