package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"brandgen/internal/infra"
)

var databaseURL string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "creditctl",
		Short:         "Administer generation credits and model routes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			if databaseURL == "" {
				databaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
			}
		},
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (defaults to DATABASE_URL)")

	root.AddCommand(newRefillCmd(), newSummaryCmd(), newRoutesCmd(), newUsageCmd())
	return root
}

// openRunner connects to Postgres for commands that touch the ledger.
func openRunner(ctx context.Context, command string) (*infra.SQLRunner, func(), error) {
	if databaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := infra.NewDBPool(ctx, &infra.Config{DatabaseURL: databaseURL, DBMaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger("cli", "creditctl").With().Str("cmd", command).Logger()
	return infra.NewSQLRunner(pool, logger), pool.Close, nil
}
