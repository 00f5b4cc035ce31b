package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tripstack/credstore/internal/registry"
)

// NewProvidersCommand lists the provider registry.
func NewProvidersCommand(opts *Options) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List supported providers and their source policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "PROVIDER\tKIND\tPOLICY\tSHARED\tREQUIRED FIELDS\n")
			_, _ = fmt.Fprintf(w, "--------\t----\t------\t------\t---------------\n")
			for _, cfg := range registry.All() {
				shared := ""
				if cfg.Shared {
					shared = "yes"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					cfg.Provider, cfg.Kind, cfg.Policy, shared, strings.Join(cfg.Required, ", "))
			}
			_ = w.Flush()

			if verbose {
				fmt.Println("\nEnvironment variables:")
				for _, cfg := range registry.All() {
					if len(cfg.EnvMap) == 0 {
						fmt.Printf("  %s: (database only)\n", cfg.Provider)
						continue
					}
					vars := make([]string, 0, len(cfg.EnvMap))
					for _, envVar := range cfg.EnvMap {
						vars = append(vars, envVar)
					}
					sort.Strings(vars)
					fmt.Printf("  %s: %s\n", cfg.Provider, strings.Join(vars, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show environment variable mappings")

	return cmd
}
