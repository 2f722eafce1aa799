package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"brandgen/internal/ledger"
)

func newRefillCmd() *cobra.Command {
	var userID, tier string
	cmd := &cobra.Command{
		Use:     "refill",
		Short:   "Grant a user the current period's allotment for a tier",
		Example: `  creditctl refill --user 0b7c... --tier pro`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			t, err := ledger.ParseTier(tier)
			if err != nil {
				return err
			}
			runner, closeDB, err := openRunner(cmd.Context(), "refill")
			if err != nil {
				return err
			}
			defer closeDB()
			if err := ledger.NewPostgres(runner).Refill(cmd.Context(), userID, t); err != nil {
				return fmt.Errorf("refill: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refilled %s to tier %s\n", userID, t)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	cmd.Flags().StringVar(&tier, "tier", "free", "tier: free, starter, pro or agency")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show a user's balances for the current period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			runner, closeDB, err := openRunner(cmd.Context(), "summary")
			if err != nil {
				return err
			}
			defer closeDB()
			balances, err := ledger.NewPostgres(runner).Summary(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("summary: %w", err)
			}
			if len(balances) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no credits in the current period")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tREMAINING\tUSED\tTOTAL\tPERIOD END")
			for _, b := range balances {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", b.CreditType, b.Remaining, b.Used, b.Total, b.PeriodEnd.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	return cmd
}
