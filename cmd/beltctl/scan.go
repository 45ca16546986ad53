package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/beltctl/pkg/link"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for belts",
	Long: `Scan for advertising belts and list them with their signal strength.

Belts that were connected before are marked as known.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_timeout from the config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

// scanEntry is one listed belt.
type scanEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	RSSI  int    `json:"rssi"`
	Known bool   `json:"known"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	r, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	duration := r.cfg.ScanTimeout
	if scanDuration > 0 {
		duration = scanDuration
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var progress *ProgressPrinter
	if scanFormat == "table" {
		progress = NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for belts", "Scanning", duration)
		progress.Start()
	}
	found, err := r.manager.ScanAndWait(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	known, err := r.history.List()
	if err != nil {
		r.logger.WithError(err).Warn("Failed to read belt history")
	}
	entries := scanEntries(found, known)

	if scanFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), entries)
	}
	return writeScanTable(cmd.OutOrStdout(), entries)
}

// scanEntries sorts by signal strength, strongest first.
func scanEntries(found []link.Peripheral, known []string) []scanEntry {
	knownSet := make(map[string]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}

	entries := make([]scanEntry, 0, len(found))
	for _, p := range found {
		entries = append(entries, scanEntry{
			ID:    p.ID,
			Name:  p.Name,
			RSSI:  p.RSSI,
			Known: knownSet[p.ID],
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].RSSI != entries[j].RSSI {
			return entries[i].RSSI > entries[j].RSSI
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

func writeScanTable(out io.Writer, entries []scanEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No belts found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI\tKNOWN")
	fmt.Fprintln(w, "-------\t----\t----\t-----")
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "-"
		}
		knownMark := ""
		if e.Known {
			knownMark = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.ID, name, e.RSSI, knownMark)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nFound %d belt(s)\n", len(entries))
	return nil
}

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("invalid format '%s': must be one of %s", format, strings.Join([]string{"table", "json"}, ", "))
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
