package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/pkg/credential"
)

// NewResolveCommand resolves one provider's credentials and prints the
// field names. Values are redacted unless --show is passed.
func NewResolveCommand(opts *Options) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "resolve <provider>",
		Short: "Resolve a provider's credentials per its source policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := credential.Provider(args[0])
			if !provider.Valid() {
				return fmt.Errorf("unknown provider: %s", args[0])
			}

			a, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			fields, err := a.resolver.Resolve(cmd.Context(), provider)
			if err != nil {
				return err
			}

			policy, _ := a.resolver.Policy(provider)
			a.logger.Info("resolved %s (%s policy, %d fields)", provider, policy, len(fields))

			names := make([]string, 0, len(fields))
			for name := range fields {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "FIELD\tVALUE\n")
			for _, name := range names {
				value := logging.Secret(fields[name]).String()
				if show {
					value = fields[name]
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\n", name, value)
			}
			_ = w.Flush()
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Print plaintext values (dangerous)")

	return cmd
}
