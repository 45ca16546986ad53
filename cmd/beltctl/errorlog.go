package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/beltctl/pkg/codec"
)

var errorLogCmd = &cobra.Command{
	Use:   "errorlog",
	Short: "Read the belt firmware error log",
	Long: `Read the internal error log of the belt. Only development firmwares answer;
other firmwares make the request time out.`,
	Args: cobra.NoArgs,
	RunE: runErrorLog,
}

var errorLogFormat string

func init() {
	errorLogCmd.Flags().StringVarP(&errorLogFormat, "format", "f", "table", "Output format (table, json)")
}

type errorLogResult struct {
	log codec.ErrorLog
	err error
}

func runErrorLog(cmd *cobra.Command, args []string) error {
	if err := validateFormat(errorLogFormat); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return withBelt(cmd, func(ctx context.Context, r *runtime) error {
		result := make(chan errorLogResult, 1)
		err := r.session.RequestBeltErrorLog(func(log codec.ErrorLog, err error) {
			result <- errorLogResult{log: log, err: err}
		})
		if err != nil {
			return err
		}

		var res errorLogResult
		select {
		case res = <-result:
		case <-ctx.Done():
			return ctx.Err()
		}
		if res.err != nil {
			return fmt.Errorf("failed to read the error log: %w", res.err)
		}

		if errorLogFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), errorLogJSON(res.log))
		}
		fmt.Fprint(cmd.OutOrStdout(), res.log.String())
		return nil
	})
}

type errorLogEntryJSON struct {
	Code    string `json:"code"`
	TimeMs  uint32 `json:"time_ms"`
	Session uint16 `json:"session"`
	More    bool   `json:"more"`
}

type errorLogDocument struct {
	Session    int                 `json:"session"`
	EntryCount int                 `json:"entry_count"`
	FirstError string              `json:"first_error"`
	LastError  string              `json:"last_error"`
	Entries    []errorLogEntryJSON `json:"entries"`
}

func errorLogJSON(log codec.ErrorLog) errorLogDocument {
	doc := errorLogDocument{
		Session:    log.Header.Session,
		EntryCount: log.Header.EntryCount,
		FirstError: fmt.Sprintf("0x%08X", log.Header.FirstError),
		LastError:  fmt.Sprintf("0x%08X", log.Header.LastError),
		Entries:    make([]errorLogEntryJSON, 0, len(log.Entries)),
	}
	for _, e := range log.Entries {
		doc.Entries = append(doc.Entries, errorLogEntryJSON{
			Code:    fmt.Sprintf("0x%08X", e.Code),
			TimeMs:  e.TimeMs,
			Session: e.Session,
			More:    e.More,
		})
	}
	return doc
}
