package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/beltctl/pkg/codec"
)

var modeCmd = &cobra.Command{
	Use:   "mode <standby|wait|compass|app|pause|calibration|crossing>",
	Short: "Change the belt mode",
	Args:  cobra.ExactArgs(1),
	RunE:  runMode,
}

var intensityCmd = &cobra.Command{
	Use:   "intensity <0-100>",
	Short: "Change the default vibration intensity",
	Long: `Change the default vibration intensity, in percent. The belt confirms the
new intensity with a short vibration unless --no-feedback is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runIntensity,
}

var headingOffsetCmd = &cobra.Command{
	Use:   "heading-offset <0-359>",
	Short: "Change the angle between the control box and the belt front",
	Args:  cobra.ExactArgs(1),
	RunE:  runHeadingOffset,
}

var vibrateCmd = &cobra.Command{
	Use:   "vibrate",
	Short: "Vibrate toward a direction",
	Long: `Start a vibration toward an angle relative to the belt (--angle) or toward a
magnetic bearing (--bearing). The vibration is continuous unless --signal
names one of the navigation signals:

  continuous, navigation, approaching_destination,
  destination_reached_repeated, destination_reached_single,
  direction_notification`,
	Example: `  beltctl vibrate --angle 90
  beltctl vibrate --bearing 0 --intensity 30 --channel 2 --keep-others
  beltctl vibrate --bearing 45 --signal approaching_destination`,
	Args: cobra.NoArgs,
	RunE: runVibrate,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop vibrations",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var signalCmd = &cobra.Command{
	Use:   "signal <warning|goal|battery>",
	Short: "Play a belt system signal",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignal,
}

var compassAccuracyCmd = &cobra.Command{
	Use:   "compass-accuracy <on|off>",
	Short: "Enable or disable the compass inaccuracy signal",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompassAccuracy,
}

var (
	intensityNoFeedback bool

	vibrateAngle      int
	vibrateBearing    int
	vibrateIntensity  int
	vibrateChannel    int
	vibrateKeepOthers bool
	vibrateSignal     string

	stopChannel int

	compassPersistent bool
)

func init() {
	intensityCmd.Flags().BoolVar(&intensityNoFeedback, "no-feedback", false, "Do not vibrate to confirm")

	vibrateCmd.Flags().IntVar(&vibrateAngle, "angle", 0, "Angle in degrees, clockwise from the control box")
	vibrateCmd.Flags().IntVar(&vibrateBearing, "bearing", 0, "Magnetic bearing in degrees, clockwise from north")
	vibrateCmd.Flags().IntVarP(&vibrateIntensity, "intensity", "i", -1, "Intensity in percent (-1 for the belt default)")
	vibrateCmd.Flags().IntVarP(&vibrateChannel, "channel", "c", 1, "Vibration channel (0-5)")
	vibrateCmd.Flags().BoolVar(&vibrateKeepOthers, "keep-others", false, "Keep the other channels vibrating")
	vibrateCmd.Flags().StringVarP(&vibrateSignal, "signal", "s", "", "Navigation signal to play instead of a continuous vibration")
	vibrateCmd.MarkFlagsMutuallyExclusive("angle", "bearing")
	vibrateCmd.MarkFlagsOneRequired("angle", "bearing")

	stopCmd.Flags().IntVarP(&stopChannel, "channel", "c", -1, "Channel to stop (-1 for all)")

	compassAccuracyCmd.Flags().BoolVar(&compassPersistent, "persistent", false, "Keep the setting after the belt restarts")
}

func runMode(cmd *cobra.Command, args []string) error {
	mode, err := codec.ModeFromString(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return withBelt(cmd, func(ctx context.Context, r *runtime) error {
		previous := r.session.Mode()
		if err := r.session.ChangeMode(mode); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Mode: %s -> %s\n", previous, mode)
		return nil
	})
}

func runIntensity(cmd *cobra.Command, args []string) error {
	intensity, err := parseIntArg("intensity", args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return withBelt(cmd, func(ctx context.Context, r *runtime) error {
		if err := r.session.ChangeDefaultIntensity(intensity, !intensityNoFeedback); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default intensity: %d%%\n", intensity)
		return nil
	})
}

func runHeadingOffset(cmd *cobra.Command, args []string) error {
	offset, err := parseIntArg("heading offset", args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return withBelt(cmd, func(ctx context.Context, r *runtime) error {
		if err := r.session.ChangeHeadingOffset(offset); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Heading offset: %d°\n", offset)
		return nil
	})
}

func runVibrate(cmd *cobra.Command, args []string) error {
	isBearing := cmd.Flags().Changed("bearing")
	direction := vibrateAngle
	if isBearing {
		direction = vibrateBearing
	}

	var kind *codec.SignalKind
	if vibrateSignal != "" {
		k, err := codec.SignalKindFromString(vibrateSignal)
		if err != nil {
			return err
		}
		kind = &k
	}
	cmd.SilenceUsage = true

	return withBelt(cmd, func(ctx context.Context, r *runtime) error {
		if kind != nil {
			req := codec.NewSignalRequest(*kind, direction, isBearing)
			req.Intensity = vibrateIntensity
			req.Channel = vibrateChannel
			req.ClearOthers = !vibrateKeepOthers
			if err := r.session.StartSignal(req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signal %s on channel %d toward %s\n", *kind, vibrateChannel, describeDirection(direction, isBearing))
			return nil
		}

		var err error
		if isBearing {
			err = r.session.VibrateAtMagneticBearing(direction, vibrateIntensity, vibrateChannel, !vibrateKeepOthers)
		} else {
			err = r.session.VibrateAtAngle(direction, vibrateIntensity, vibrateChannel, !vibrateKeepOthers)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Vibrating on channel %d toward %s\n", vibrateChannel, describeDirection(direction, isBearing))
		return nil
	})
}

func runStop(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	return withBelt(cmd, func(ctx context.Context, r *runtime) error {
		if err := r.session.StopVibration(stopChannel); err != nil {
			return err
		}
		if stopChannel == -1 {
			fmt.Fprintln(cmd.OutOrStdout(), "All channels stopped")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Channel %d stopped\n", stopChannel)
		}
		return nil
	})
}

func runSignal(cmd *cobra.Command, args []string) error {
	sig, err := codec.SystemSignalFromString(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return withBelt(cmd, func(ctx context.Context, r *runtime) error {
		return r.session.SendSystemSignal(sig)
	})
}

func runCompassAccuracy(cmd *cobra.Command, args []string) error {
	var enable bool
	switch strings.ToLower(args[0]) {
	case "on", "true", "enable":
		enable = true
	case "off", "false", "disable":
	default:
		return fmt.Errorf("invalid state '%s': must be on or off", args[0])
	}
	cmd.SilenceUsage = true

	return withBelt(cmd, func(ctx context.Context, r *runtime) error {
		return r.session.ChangeCompassAccuracySignalState(enable, compassPersistent)
	})
}

func parseIntArg(name, arg string) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': must be a number", name, arg)
	}
	return v, nil
}

func describeDirection(direction int, isBearing bool) string {
	if isBearing {
		return fmt.Sprintf("bearing %d°", direction)
	}
	return fmt.Sprintf("angle %d°", direction)
}
