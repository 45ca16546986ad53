package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/beltctl/internal/ptyio"
	"github.com/srg/beltctl/pkg/session"
)

var debugConsoleCmd = &cobra.Command{
	Use:   "debug-console",
	Short: "Expose the belt debug console as a terminal",
	Long: `Connect to a belt and open a pseudo-terminal wired to its debug channel.
What is typed in the terminal is sent to the belt; what the belt prints
appears in the terminal. Attach any terminal program to the printed device,
for example:

  screen /dev/ttys012

Use --link to also create a stable symlink to the device.`,
	Args: cobra.NoArgs,
	RunE: runDebugConsole,
}

var debugConsoleLink string

func init() {
	debugConsoleCmd.Flags().StringVar(&debugConsoleLink, "link", "", "Create a symlink to the terminal device at this path")
}

func runDebugConsole(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

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
	lost, unwatch := r.watchConnection()
	defer unwatch()

	console, err := ptyio.OpenConsole(r.session, ptyio.ConsoleOptions{
		PTY:         ptyio.DefaultOptions(),
		SymlinkPath: debugConsoleLink,
	}, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open debug console: %w", err)
	}
	defer func() {
		if err := console.Close(); err != nil {
			r.logger.WithError(err).Warn("Failed to close debug console")
		}
	}()

	r.session.Subscribe(func(ev session.Event) {
		if _, ok := ev.(session.DebugOutput); ok {
			console.Pump()
		}
	})
	// Output received during the handshake is already buffered.
	console.Pump()

	fmt.Fprintf(cmd.OutOrStdout(), "Debug console: %s\n", console.TTYName())
	if link := console.Symlink(); link != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Symlink: %s\n", link)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to close.")

	select {
	case <-lost:
		return ErrConnectionLost
	case <-ctx.Done():
	}

	stats := console.Stats()
	r.logger.WithFields(logrus.Fields{
		"read_total":    stats.ReadTotal,
		"write_total":   stats.WriteTotal,
		"dropped_read":  stats.DroppedRead,
		"dropped_write": stats.DroppedWrite,
	}).Info("Debug console closed")

	if err := r.settle(context.Background()); err != nil {
		r.logger.WithError(err).Warn("Belt did not answer the last requests")
	}
	r.manager.Disconnect()
	return nil
}
