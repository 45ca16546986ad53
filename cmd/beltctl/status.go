package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/session"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// orientationWait bounds the wait for the first heading with --orientation.
const orientationWait = 3 * time.Second

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the belt state",
	Long: `Connect to a belt and show what the handshake reported: mode, default
intensity, firmware version, battery and heading offset.

With --orientation the belt heading is read too.`,
	RunE: runStatus,
}

var (
	statusFormat      string
	statusOrientation bool
)

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "table", "Output format (table, json)")
	statusCmd.Flags().BoolVar(&statusOrientation, "orientation", false, "Also read the belt heading")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := validateFormat(statusFormat); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return withBelt(cmd, func(ctx context.Context, r *runtime) error {
		if statusOrientation {
			if err := readOrientation(ctx, r.session); err != nil {
				r.logger.WithError(err).Warn("Belt heading not available")
			}
		}

		status := buildStatus(r.manager.Peripheral().ID, r.manager.Peripheral().Name, r.session.State())
		if statusFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), status)
		}
		return writeStatusTable(cmd.OutOrStdout(), status)
	})
}

// readOrientation waits for one heading update and unsubscribes again.
func readOrientation(ctx context.Context, s *session.Session) error {
	got := make(chan struct{}, 1)
	s.Subscribe(func(ev session.Event) {
		if _, ok := ev.(session.OrientationChanged); ok {
			select {
			case got <- struct{}{}:
			default:
			}
		}
	})
	if err := s.StartOrientationNotifications(session.OrientationFilter{}); err != nil {
		return err
	}
	defer func() { _ = s.StopOrientationNotifications() }()

	ctx, cancel := context.WithTimeout(ctx, orientationWait)
	defer cancel()
	select {
	case <-got:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type statusMap = orderedmap.OrderedMap[string, any]

// buildStatus keeps the fields in display order. Unknown values are nil.
func buildStatus(id, name string, st session.State) *statusMap {
	out := orderedmap.New[string, any]()
	out.Set("address", id)
	out.Set("name", name)
	out.Set("mode", st.Mode.String())
	out.Set("default_intensity", knownInt(st.DefaultIntensity))
	out.Set("firmware_version", knownInt(st.FirmwareVersion))

	battery := orderedmap.New[string, any]()
	battery.Set("power_status", st.Battery.PowerStatus.String())
	battery.Set("level", st.Battery.Level)
	battery.Set("tte_or_ttf", st.Battery.TTEOrTTF)
	out.Set("battery", battery)

	if st.HeadingOffset != nil {
		out.Set("heading_offset", *st.HeadingOffset)
	} else {
		out.Set("heading_offset", nil)
	}
	if st.AccuracySignal != nil {
		out.Set("compass_accuracy_signal", *st.AccuracySignal)
	} else {
		out.Set("compass_accuracy_signal", nil)
	}
	if st.Orientation != nil {
		orientation := orderedmap.New[string, any]()
		orientation.Set("heading", st.Orientation.Heading)
		orientation.Set("accurate", !st.Orientation.Inaccurate)
		out.Set("orientation", orientation)
	}
	return out
}

// knownInt maps the -1 placeholder to nil.
func knownInt(v int) any {
	if v < 0 {
		return nil
	}
	return v
}

func writeStatusTable(out io.Writer, status *statusMap) error {
	label := color.New(color.FgCyan)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for pair := status.Oldest(); pair != nil; pair = pair.Next() {
		if nested, ok := pair.Value.(*statusMap); ok {
			for p := nested.Oldest(); p != nil; p = p.Next() {
				fmt.Fprintf(w, "%s\t%s\n", label.Sprintf("%s.%s", pair.Key, p.Key), formatValue(p.Key, p.Value))
			}
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", label.Sprint(pair.Key), formatValue(pair.Key, pair.Value))
	}
	return w.Flush()
}

func formatValue(key string, v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case float64:
		if key == "level" {
			return fmt.Sprintf("%.1f%%", val)
		}
		return (time.Duration(val) * time.Second).String()
	case string:
		if key == "mode" && val == codec.ModeUnknown.String() {
			return color.YellowString(val)
		}
		return val
	default:
		return fmt.Sprint(val)
	}
}
