package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"brandgen/internal/audit"
)

func newUsageCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize provider attempts, failures and spend per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeDB, err := openRunner(cmd.Context(), "usage")
			if err != nil {
				return err
			}
			defer closeDB()
			rows, err := audit.NewPostgres(runner).UsageSince(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return fmt.Errorf("usage: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tATTEMPTS\tFAILURES\tCOST USD\tAVG LATENCY")
			for _, r := range rows {
				fmt.Fprintf(w, "%s/%s\t%d\t%d\t%.4f\t%dms\n", r.Provider, r.Model, r.Attempts, r.Failures, r.Cost, int64(r.AvgLatencyMS))
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window to summarize")
	return cmd
}
