package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"brandgen/internal/domain"
	"brandgen/internal/providers"
	"brandgen/internal/router"
)

func newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect the model route table",
	}
	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check a route table against every known provider",
		Long: `Loads the route table (the embedded default when --file is empty) and
checks that every task type is routed to a capable provider with a distinct
fallback and that every model is priced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := router.LoadTable(file)
			if err != nil {
				return err
			}
			if err := table.Validate(knownProviders()); err != nil {
				return err
			}
			return printRoutes(cmd, table)
		},
	}
	validate.Flags().StringVar(&file, "file", "", "route table YAML")
	cmd.AddCommand(validate)
	return cmd
}

// knownProviders registers every provider implementation without keys; only
// names and capabilities matter for validation.
func knownProviders() map[string]providers.Provider {
	registry := make(map[string]providers.Provider)
	for _, p := range []providers.Provider{
		providers.NewSynthetic(),
		providers.NewGemini(providers.GeminiOptions{}),
		providers.NewOpenAI(providers.OpenAIOptions{}),
		providers.NewQwen(providers.QwenOptions{}),
	} {
		registry[p.Name()] = p
	}
	return registry
}

func printRoutes(cmd *cobra.Command, table *router.Table) error {
	types := make([]string, 0, len(table.Routes))
	for tt := range table.Routes {
		types = append(types, string(tt))
	}
	sort.Strings(types)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tPRIMARY\tFALLBACK")
	for _, tt := range types {
		route := table.Routes[domain.TaskType(tt)]
		fmt.Fprintf(w, "%s\t%s\t%s\n", tt, route.Primary, route.Fallback)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "route table OK")
	return nil
}
