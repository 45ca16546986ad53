package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/internal/link/goble"
	"github.com/srg/beltctl/internal/store"
	"github.com/srg/beltctl/pkg/config"
	"github.com/srg/beltctl/pkg/connection"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/linkop"
	"github.com/srg/beltctl/pkg/session"
)

// settleTimeout bounds the wait for queued belt requests before a command
// disconnects.
const settleTimeout = 2 * time.Second

// Seams replaced by command tests.
var (
	newTransport = func(logger *logrus.Logger) link.Transport {
		return goble.NewTransport(logger)
	}
	newClock = clock.Real
)

// runtime is everything a command needs to talk to a belt.
type runtime struct {
	cfg     *config.Config
	logger  *logrus.Logger
	clock   clock.Clock
	history *store.History
	session *session.Session
	manager *connection.Manager
}

// loadConfig reads --config and applies the flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if backend, _ := cmd.Flags().GetString("store"); backend != "" {
		cfg.Store.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openHistory opens the configured store without touching the radio.
func openHistory(cfg *config.Config) (*store.History, error) {
	backend, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open belt store: %w", err)
	}
	return store.NewHistory(backend), nil
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	logger, err := configureLogger(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	history, err := openHistory(cfg)
	if err != nil {
		return nil, err
	}

	clk := newClock()
	queue := linkop.NewQueue(logger,
		linkop.WithClock(clk),
		linkop.WithDefaultTimeout(cfg.OperationTimeout))
	sess := session.New(logger,
		session.WithQueue(queue),
		session.WithClock(clk),
		session.WithErrorLogTimeout(cfg.ErrorLogTimeout))
	manager := connection.NewManager(newTransport(logger), history, logger,
		connection.WithOptions(connection.OptionsFromConfig(cfg)),
		connection.WithClock(clk),
		connection.WithSession(sess))

	logger.WithFields(logrus.Fields{
		"store":  cfg.Store.Backend,
		"policy": cfg.FallbackPolicy,
	}).Debug("Runtime ready")

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		clock:   clk,
		history: history,
		session: sess,
		manager: manager,
	}, nil
}

// Close disconnects and releases the manager.
func (r *runtime) Close() {
	r.manager.Close()
}

// connect connects to --belt, or runs the search strategy without it.
func (r *runtime) connect(ctx context.Context, cmd *cobra.Command) error {
	id, _ := cmd.Flags().GetString("belt")
	if id != "" {
		r.logger.WithField("belt", id).Info("Connecting to belt")
		return r.manager.ConnectAndWait(ctx, id)
	}
	r.logger.Info("Searching for a belt")
	return r.manager.SearchAndWait(ctx)
}

// settle waits until every queued belt request was answered.
func (r *runtime) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !r.session.Queue().IsIdle() {
		if !r.session.Connected() {
			return ErrConnectionLost
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("belt still has %d pending requests: %w", r.session.Queue().Len(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// watchConnection returns a channel closed when a belt that was connected
// is given up, and a function that stops watching. Reconnection attempts
// do not count as lost.
func (r *runtime) watchConnection() (<-chan struct{}, func()) {
	lost := make(chan struct{})
	var (
		once sync.Once
		seen atomic.Bool
	)
	if r.manager.State() == connection.Connected {
		seen.Store(true)
	}
	stop := r.manager.Subscribe(func(ev connection.Event) {
		switch ev.State {
		case connection.Connected:
			seen.Store(true)
		case connection.NotConnected:
			if !seen.Load() {
				return
			}
			if ev.Err != nil {
				r.logger.WithError(ev.Err).Warn("Belt disconnected")
			}
			once.Do(func() { close(lost) })
		}
	})
	return lost, stop
}

// signalContext is cancelled on Ctrl+C.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// withBelt connects, runs action, waits for the belt to answer and
// disconnects.
func withBelt(cmd *cobra.Command, action func(ctx context.Context, r *runtime) error) error {
	r, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	if err := r.connect(ctx, cmd); err != nil {
		return err
	}
	r.logger.WithField("belt", r.manager.Peripheral().ID).Info("Belt connected")

	if err := action(ctx, r); err != nil {
		return err
	}
	if err := r.settle(ctx); err != nil {
		return err
	}
	r.manager.Disconnect()
	return nil
}
