package ptyio

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// MaxDebugChunk is the largest debug input write sent to the belt in one
// packet (default ATT MTU minus the write header).
const MaxDebugChunk = 20

// DebugChannel is the belt side of a console: raw writes to the debug input
// characteristic and the buffered debug output.
type DebugChannel interface {
	SendDebugData(data []byte) error
	ReadDebugOutput(p []byte) int
}

// ConsoleOptions configure OpenConsole.
type ConsoleOptions struct {
	PTY Options
	// SymlinkPath, when set, is created as a symlink to the slave device.
	SymlinkPath string
}

// Console exposes the belt debug channel as a terminal: text typed on the
// slave is sent to the belt, and Pump copies belt output to the slave.
type Console struct {
	pty     PTY
	belt    DebugChannel
	logger  *logrus.Logger
	symlink string

	mu      sync.Mutex
	pumpBuf []byte
}

// OpenConsole creates the PTY and starts forwarding typed input to belt.
func OpenConsole(belt DebugChannel, opts ConsoleOptions, logger *logrus.Logger) (*Console, error) {
	if logger == nil {
		logger = noopLogger
	}
	p, err := NewPty(opts.PTY, logger)
	if err != nil {
		return nil, err
	}
	return newConsole(p, belt, opts.SymlinkPath, logger)
}

func newConsole(p PTY, belt DebugChannel, symlink string, logger *logrus.Logger) (*Console, error) {
	c := &Console{pty: p, belt: belt, logger: logger, pumpBuf: make([]byte, 1024)}

	if symlink != "" {
		if err := os.Symlink(p.TTYName(), symlink); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to create tty symlink %s -> %s: %w", symlink, p.TTYName(), err)
		}
		c.symlink = symlink
	}

	logger.WithFields(logrus.Fields{"tty": p.TTYName(), "symlink": symlink}).Info("Debug console ready")
	p.SetReadCallback(c.forward)
	return c, nil
}

func (c *Console) forward(data []byte) {
	for len(data) > 0 {
		n := min(len(data), MaxDebugChunk)
		if err := c.belt.SendDebugData(data[:n]); err != nil {
			c.logger.WithError(err).Warn("Failed to send console input to belt")
			return
		}
		data = data[n:]
	}
}

// Pump moves all buffered belt debug output to the terminal and returns the
// number of bytes written. Call it on every debug output event.
func (c *Console) Pump() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for {
		n := c.belt.ReadDebugOutput(c.pumpBuf)
		if n == 0 {
			return total
		}
		w, err := c.pty.Write(c.pumpBuf[:n])
		total += w
		if err != nil {
			c.logger.WithError(err).Debug("Console output dropped")
			return total
		}
	}
}

// TTYName returns the slave device path.
func (c *Console) TTYName() string { return c.pty.TTYName() }

// Symlink returns the symlink path, empty when none was created.
func (c *Console) Symlink() string { return c.symlink }

// Stats returns the PTY counters.
func (c *Console) Stats() Stats { return c.pty.Stats() }

// Close removes the symlink and closes the PTY.
func (c *Console) Close() error {
	c.pty.SetReadCallback(nil)
	if c.symlink != "" {
		if err := os.Remove(c.symlink); err != nil && !os.IsNotExist(err) {
			c.logger.WithError(err).WithField("symlink", c.symlink).Warn("Failed to remove tty symlink")
		}
	}
	return c.pty.Close()
}
