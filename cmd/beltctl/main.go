package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "beltctl",
	Short: "feelSpace naviBelt controller",
	Long: `Command-line controller for the feelSpace naviBelt haptic belt:

- Scan for belts and remember the ones you connected to
- Inspect the belt state (mode, intensity, battery, firmware, heading)
- Change the mode and default intensity, vibrate, stop and play system signals
- Monitor belt notifications and run a navigation session
- Read the firmware error log and open the debug console as a terminal

Without --belt, commands connect to the belt found by the search strategy:
an already connected belt, then the last belt used, then a scan.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("beltctl {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(intensityCmd)
	rootCmd.AddCommand(headingOffsetCmd)
	rootCmd.AddCommand(compassAccuracyCmd)
	rootCmd.AddCommand(vibrateCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(errorLogCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(navigateCmd)
	rootCmd.AddCommand(debugConsoleCmd)
	rootCmd.AddCommand(historyCmd)

	addGlobalFlags(rootCmd)
	rootCmd.Flags().BoolP("version", "V", false, "Show version information")
}

// addGlobalFlags registers the flags every command understands.
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output (same as --log-level=debug)")
	cmd.PersistentFlags().String("config", "", "Configuration file (YAML)")
	cmd.PersistentFlags().String("belt", "", "Belt address to connect to (skips the search)")
	cmd.PersistentFlags().String("store", "", "Where to remember belts (memory, file, keyring)")
}
