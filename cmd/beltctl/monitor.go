package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/beltctl/pkg/connection"
	"github.com/srg/beltctl/pkg/session"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print belt notifications as they arrive",
	Long: `Connect to a belt and print its notifications: mode changes, button
presses, battery, intensity and, with --orientation, the belt heading.

Runs until --duration elapses, the belt disconnects or Ctrl+C is pressed.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorDuration    time.Duration
	monitorOrientation bool
	monitorMinPeriod   time.Duration
	monitorMinVariance int
)

func init() {
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
	monitorCmd.Flags().BoolVar(&monitorOrientation, "orientation", false, "Also print the belt heading")
	monitorCmd.Flags().DurationVar(&monitorMinPeriod, "orientation-period", 0, "Minimum time between two headings")
	monitorCmd.Flags().IntVar(&monitorMinVariance, "orientation-variation", 0, "Minimum heading change in degrees")
}

// eventPrinter serializes lines written from event callbacks.
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func (p *eventPrinter) print(name, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %-24s %s\n", p.now().Format("15:04:05.000"), color.CyanString(name), detail)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	r, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	printer := &eventPrinter{out: cmd.OutOrStdout(), now: r.clock.Now}
	r.session.Subscribe(func(ev session.Event) {
		printer.print(session.EventName(ev), describeSessionEvent(ev))
	})
	unsubscribe := r.manager.Subscribe(func(ev connection.Event) {
		printer.print("connection", describeConnectionEvent(ev))
	})
	defer unsubscribe()

	ctx, stop := signalContext(cmd)
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	if err := r.connect(ctx, cmd); err != nil {
		return err
	}
	lost, unwatch := r.watchConnection()
	defer unwatch()

	if monitorOrientation {
		filter := session.OrientationFilter{MinPeriod: monitorMinPeriod, MinHeadingVariation: monitorMinVariance}
		if err := r.session.StartOrientationNotifications(filter); err != nil {
			return err
		}
	}

	select {
	case <-lost:
		return ErrConnectionLost
	case <-ctx.Done():
	}

	if monitorOrientation && r.session.Connected() {
		_ = r.session.StopOrientationNotifications()
		_ = r.settle(context.Background())
	}
	r.manager.Disconnect()
	return nil
}

func describeSessionEvent(ev session.Event) string {
	switch e := ev.(type) {
	case session.ModeChanged:
		return e.Mode.String()
	case session.IntensityChanged:
		return fmt.Sprintf("%d%%", e.Intensity)
	case session.HeadingOffsetChanged:
		return fmt.Sprintf("%d°", e.Offset)
	case session.BatteryChanged:
		return fmt.Sprintf("%.1f%% %s", e.Status.Level, e.Status.PowerStatus)
	case session.ButtonPressed:
		return fmt.Sprintf("%s %s (%s -> %s)", e.Press.Button, e.Press.Press, e.Press.PreviousMode, e.Press.NewMode)
	case session.OrientationChanged:
		if e.Orientation.Inaccurate {
			return fmt.Sprintf("%d° %s", e.Orientation.Heading, color.YellowString("inaccurate"))
		}
		return fmt.Sprintf("%d°", e.Orientation.Heading)
	case session.FirmwareVersion:
		return fmt.Sprintf("%d", e.Version)
	case session.AccuracySignalChanged:
		if e.Enabled {
			return "enabled"
		}
		return "disabled"
	case session.DebugOutput:
		return fmt.Sprintf("%q", e.Data)
	}
	return ""
}

func describeConnectionEvent(ev connection.Event) string {
	s := fmt.Sprintf("%s -> %s (%s)", ev.Previous, ev.State, ev.Cause)
	if ev.Peripheral.ID != "" {
		s += " " + ev.Peripheral.ID
	}
	if ev.Err != nil {
		s += " " + color.RedString(ev.Err.Kind.String())
	}
	return s
}
