// Package ptyio exposes a byte stream as a pseudo-terminal. The master side
// is buffered in ring buffers and served by background goroutines, so
// Write and Read never block; the slave path (TTYName) can be opened by
// any terminal program (screen, minicom, picocom).
//
//	p, err := ptyio.NewPty(ptyio.DefaultOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	p.SetReadCallback(func(typed []byte) { ... })
//	_, _ = p.Write([]byte("hello\r\n"))
//
// PollTimeout bounds how long the loops wait for I/O before checking for
// shutdown. Lower values make Close faster and cost idle wakeups.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/beltctl/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ReadCallback receives bytes typed on the slave side. It runs on a
// background goroutine and must not retain data.
type ReadCallback func(data []byte)

// ErrorCallback is called at most once per loop when a loop stops on an
// unexpected error. The PTY should be closed afterwards.
type ErrorCallback func(err error)

// Options configure NewPty.
type Options struct {
	ReadCap     int           `default:"1024"`
	WriteCap    int           `default:"4096"`
	PollTimeout time.Duration `default:"50ms"`
	OnError     ErrorCallback
}

// DefaultOptions returns the default PTY options.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// PTY is a non-blocking pseudo-terminal master.
type PTY interface {
	io.ReadWriteCloser
	Stats() Stats
	// TTYName is the slave device path, e.g. /dev/pts/5.
	TTYName() string
	// SetReadCallback switches to push delivery of slave input; nil
	// switches back to Read.
	SetReadCallback(cb ReadCallback)
}

// Stats are instantaneous PTY counters.
type Stats struct {
	WriteQueueLen int
	ReadQueueLen  int
	DroppedWrite  uint64
	DroppedRead   uint64
	ReadTotal     uint64
	WriteTotal    uint64
}

const chunkSize = 4096

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type ringPTY struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	ttyName string
	poll    int
	onError ErrorCallback

	out *ringbuffer.RingBuffer // towards the slave
	in  *ringbuffer.RingBuffer // typed on the slave

	readCb  atomic.Pointer[ReadCallback]
	wake    chan struct{}
	errOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	droppedWrite, droppedRead atomic.Uint64
	readTotal, writeTotal     atomic.Uint64
}

// NewPty opens a PTY pair in raw mode and starts its I/O loops. A nil
// logger discards output.
func NewPty(opts Options, logger *logrus.Logger) (PTY, error) {
	def := DefaultOptions()
	if opts.ReadCap <= 0 {
		opts.ReadCap = def.ReadCap
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = def.WriteCap
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = def.PollTimeout
	}
	if logger == nil {
		logger = noopLogger
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:  logger,
		master:  master,
		slave:   slave, // kept open so the slave node outlives external readers
		ttyName: slave.Name(),
		poll:    int(opts.PollTimeout / time.Millisecond),
		onError: opts.OnError,
		out:     ringbuffer.New(opts.WriteCap),
		in:      ringbuffer.New(opts.ReadCap),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	if p.poll <= 0 {
		p.poll = 1
	}

	groutine.GoWait(ctx, &p.wg, "pty-read", func(context.Context) { p.readLoop() })
	groutine.GoWait(ctx, &p.wg, "pty-write", func(context.Context) { p.writeLoop() })
	groutine.GoWait(ctx, &p.wg, "pty-dispatch", func(context.Context) { p.dispatchLoop() })
	return p, nil
}

func openRaw() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(stage string, cause error) error {
		_ = master.Close()
		_ = slave.Close()
		return fmt.Errorf("failed to set %s on %s: %w", stage, slave.Name(), cause)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, cleanup("raw mode", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, cleanup("non-blocking mode", err)
	}
	return master, slave, nil
}

func (p *ringPTY) fail(loop string, err error) {
	p.logger.WithFields(logrus.Fields{"loop": loop, "error": err}).Warn("PTY loop stopped")
	if p.onError != nil {
		p.errOnce.Do(func() { p.onError(fmt.Errorf("pty %s: %w", loop, err)) })
	}
}

func (p *ringPTY) done() bool {
	select {
	case <-p.ctx.Done():
		return true
	default:
		return false
	}
}

func (p *ringPTY) writeLoop() {
	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, chunkSize)

	for !p.done() {
		if p.out.IsEmpty() {
			// Idle until the next check.
			time.Sleep(time.Duration(p.poll) * time.Millisecond)
			continue
		}
		n, err := p.out.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithError(err).Warn("PTY write queue read failed")
			continue
		}

		for off := 0; off < n && !p.done(); {
			w, err := master.Write(buf[off:n])
			if w > 0 {
				off += w
				p.writeTotal.Add(uint64(w))
			}
			switch {
			case err == nil, errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(fds, p.poll); perr != nil && !errors.Is(perr, syscall.EINTR) {
					p.logger.WithError(perr).Debug("PTY write poll failed")
				}
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				p.fail("write", err)
				return
			}
		}
	}
}

func (p *ringPTY) readLoop() {
	master := p.master
	fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, chunkSize)

	for !p.done() {
		ready, err := unix.Poll(fds, p.poll)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Debug("PTY read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			w, _ := p.in.Write(buf[:n])
			if w < n {
				p.droppedRead.Add(uint64(n - w))
				p.logger.WithField("dropped", n-w).Warn("PTY input buffer full, bytes dropped")
			}
			p.readTotal.Add(uint64(w))
			if w > 0 {
				p.signal()
			}
		}

		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
			return
		default:
			// EIO is reported while no process holds the slave open.
			if errors.Is(err, syscall.EIO) {
				time.Sleep(time.Duration(p.poll) * time.Millisecond)
				continue
			}
			p.fail("read", err)
			return
		}
	}
}

func (p *ringPTY) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *ringPTY) dispatchLoop() {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}

		for !p.done() {
			cb := p.readCb.Load()
			if cb == nil {
				break
			}
			n, _ := p.in.TryRead(buf)
			if n == 0 {
				break
			}
			p.deliver(*cb, buf[:n])
		}
	}
}

func (p *ringPTY) deliver(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.readCb.Store(nil)
			p.fail("read callback", fmt.Errorf("panic: %v", r))
		}
	}()
	cb(data)
}

// Write queues data for the slave. It never blocks; when the queue is
// full the returned count is short and the rest is dropped.
func (p *ringPTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	w, err := p.out.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return w, err
	}
	if w < len(data) {
		p.droppedWrite.Add(uint64(len(data) - w))
		p.logger.WithField("dropped", len(data)-w).Warn("PTY output buffer full, bytes dropped")
	}
	return w, nil
}

// Read returns buffered slave input, or syscall.EAGAIN when there is none.
func (p *ringPTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.in.TryRead(b)
	if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	if p.closed.Load() {
		return
	}
	if cb == nil {
		p.readCb.Store(nil)
		return
	}
	p.readCb.Store(&cb)
	p.signal()
}

// Close stops the loops and closes both ends.
func (p *ringPTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	var errs []error
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY master: %w", err))
	}
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY slave: %w", err))
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-close-wait", func(context.Context) {
		p.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Duration(p.poll)*time.Millisecond*3 + time.Second):
		p.logger.WithField("tty", p.ttyName).Error("PTY loops did not stop in time")
	}
	return errors.Join(errs...)
}

func (p *ringPTY) Stats() Stats {
	return Stats{
		WriteQueueLen: p.out.Length(),
		ReadQueueLen:  p.in.Length(),
		DroppedWrite:  p.droppedWrite.Load(),
		DroppedRead:   p.droppedRead.Load(),
		ReadTotal:     p.readTotal.Load(),
		WriteTotal:    p.writeTotal.Load(),
	}
}

func (p *ringPTY) TTYName() string {
	return p.ttyName
}
