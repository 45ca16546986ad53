package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the belts connected before",
	Long: `List the belts that completed a connection, most recent first. The search
strategy tries them in this order when no belt is connected.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every remembered belt",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

var historyFormat string

func init() {
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "Output format (table, json)")
	historyCmd.AddCommand(historyClearCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := validateFormat(historyFormat); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	ids, err := history.List()
	if err != nil {
		return err
	}

	if historyFormat == "json" {
		if ids == nil {
			ids = []string{}
		}
		return writeJSON(cmd.OutOrStdout(), ids)
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No belts remembered.")
		return nil
	}
	for i, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, id)
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if err := history.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Belt history cleared.")
	return nil
}
