package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/navigation"
)

var navigateCmd = &cobra.Command{
	Use:   "navigate",
	Short: "Run a navigation session",
	Long: `Switch the belt to app mode and keep a navigation signal running toward a
bearing (--bearing) or an angle (--angle). The belt buttons pause and resume
the navigation.

With --interactive, commands are read from standard input, one per line:

  bearing <deg>         point the signal toward a magnetic bearing
  angle <deg>           point the signal toward an angle
  signal <kind>         change the signal kind
  pause | resume        pause or resume the navigation
  direction <deg>       play a single direction pulse
  warning [critical]    play a warning
  goal                  play the destination reached signal and stop
  battery               play the battery level signal
  quit                  stop the navigation and exit`,
	Args: cobra.NoArgs,
	RunE: runNavigate,
}

var (
	navigateBearing     int
	navigateAngle       int
	navigateSignal      string
	navigateDuration    time.Duration
	navigateInteractive bool
)

// errQuit ends an interactive navigation session.
var errQuit = errors.New("quit")

func init() {
	navigateCmd.Flags().IntVar(&navigateBearing, "bearing", 0, "Magnetic bearing in degrees")
	navigateCmd.Flags().IntVar(&navigateAngle, "angle", 0, "Angle in degrees relative to the belt")
	navigateCmd.Flags().StringVarP(&navigateSignal, "signal", "s", codec.SignalNavigation.String(), "Signal kind (must repeat)")
	navigateCmd.Flags().DurationVarP(&navigateDuration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
	navigateCmd.Flags().BoolVarP(&navigateInteractive, "interactive", "i", false, "Read navigation commands from standard input")
	navigateCmd.MarkFlagsMutuallyExclusive("angle", "bearing")
}

// navigationSession is the state of one navigate run.
type navigationSession struct {
	ctrl      *navigation.Controller
	direction int
	isBearing bool
	kind      codec.SignalKind
}

func runNavigate(cmd *cobra.Command, args []string) error {
	kind, err := codec.SignalKindFromString(navigateSignal)
	if err != nil {
		return err
	}
	if !kind.IsRepeated() {
		return fmt.Errorf("%w: %s", navigation.ErrNotRepeated, kind)
	}
	nav := &navigationSession{
		direction: navigateBearing,
		isBearing: !cmd.Flags().Changed("angle"),
		kind:      kind,
	}
	if !nav.isBearing {
		nav.direction = navigateAngle
	}
	cmd.SilenceUsage = true

	r, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	nav.ctrl = navigation.NewController(r.manager, r.logger,
		navigation.WithMinUpdatePeriod(r.cfg.NavigationUpdatePeriod),
		navigation.WithClock(r.clock))
	defer nav.ctrl.Close()

	printer := &eventPrinter{out: cmd.OutOrStdout(), now: r.clock.Now}
	nav.ctrl.Subscribe(func(ev navigation.Event) {
		if detail, ok := describeNavigationEvent(ev); ok {
			printer.print(navigation.EventName(ev), detail)
		}
	})

	// The signal starts once the belt is connected and in app mode.
	if err := nav.ctrl.StartNavigation(nav.direction, nav.isBearing, nav.kind); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	if navigateDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, navigateDuration)
		defer cancel()
	}

	if err := r.connect(ctx, cmd); err != nil {
		return err
	}
	lost, unwatch := r.watchConnection()
	defer unwatch()

	commands := make(chan string)
	if navigateInteractive {
		go readCommands(cmd.InOrStdin(), commands)
	}

loop:
	for {
		select {
		case <-lost:
			return ErrConnectionLost
		case <-ctx.Done():
			break loop
		case line, ok := <-commands:
			if !ok {
				break loop
			}
			err := nav.handle(line)
			if errors.Is(err, errQuit) {
				break loop
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", FormatUserError(err))
			}
		}
	}

	if err := nav.ctrl.StopNavigation(); err != nil {
		r.logger.WithError(err).Warn("Failed to stop the navigation")
	}
	if err := r.settle(context.Background()); err != nil {
		r.logger.WithError(err).Warn("Belt did not answer the last requests")
	}
	r.manager.Disconnect()
	return nil
}

// readCommands sends non-empty lines until in is exhausted.
func readCommands(in io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out <- line
		}
	}
}

// handle runs one interactive command.
func (n *navigationSession) handle(line string) error {
	fields := strings.Fields(line)
	arg := func() (int, error) {
		if len(fields) < 2 {
			return 0, fmt.Errorf("%s: missing degrees", fields[0])
		}
		return parseIntArg("degrees", fields[1])
	}

	switch strings.ToLower(fields[0]) {
	case "bearing", "angle":
		deg, err := arg()
		if err != nil {
			return err
		}
		n.direction, n.isBearing = deg, fields[0] == "bearing"
		return n.ctrl.UpdateNavigationSignal(n.direction, n.isBearing, n.kind)
	case "signal":
		if len(fields) < 2 {
			return errors.New("signal: missing kind")
		}
		kind, err := codec.SignalKindFromString(fields[1])
		if err != nil {
			return err
		}
		if err := n.ctrl.UpdateNavigationSignal(n.direction, n.isBearing, kind); err != nil {
			return err
		}
		n.kind = kind
		return nil
	case "pause":
		return n.ctrl.PauseNavigation()
	case "resume":
		return n.ctrl.ResumeNavigation()
	case "direction":
		deg, err := arg()
		if err != nil {
			return err
		}
		return n.ctrl.NotifyDirection(deg, true)
	case "warning":
		return n.ctrl.NotifyWarning(len(fields) > 1 && fields[1] == "critical")
	case "goal":
		if err := n.ctrl.NotifyDestinationReached(true); err != nil {
			return err
		}
		return errQuit
	case "battery":
		return n.ctrl.NotifyBeltBatteryLevel()
	case "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("unknown command %q", fields[0])
}

func describeNavigationEvent(ev navigation.Event) (string, bool) {
	switch e := ev.(type) {
	case navigation.StateChanged:
		return e.State.String(), true
	case navigation.HomeRequested:
		return "navigating=" + strconv.FormatBool(e.Navigating), true
	case navigation.OrientationUpdated:
		return fmt.Sprintf("%d° accurate=%t", e.Heading, e.Accurate), true
	case navigation.BatteryUpdated:
		return fmt.Sprintf("%d%% %s", e.Level, e.PowerStatus), true
	case navigation.IntensityChanged:
		return fmt.Sprintf("%d%%", e.Intensity), true
	case navigation.AccuracySignalChanged:
		return "enabled=" + strconv.FormatBool(e.Enabled), true
	case navigation.ConnectionChanged:
		if e.State != e.Previous {
			return fmt.Sprintf("%s -> %s", e.Previous, e.State), true
		}
	}
	return "", false
}
