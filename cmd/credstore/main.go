package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/tripstack/credstore/cmd/credstore/commands"
	"github.com/tripstack/credstore/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Wipe any secret enclaves before the process exits.
	defer memguard.Purge()

	if err := run(); err != nil {
		memguard.Purge()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	opts := &commands.Options{}

	rootCmd := &cobra.Command{
		Use:   "credstore",
		Short: "Credential lifecycle service for storage and travel-data providers",
		Long: `credstore stores provider credentials encrypted and versioned, resolves
them per provider policy (environment, database, or hybrid), and serves
the admin HTTP API for rotation, rollback, and connection testing.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.ConfigPath = configFile
			opts.Debug = debug
			opts.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default credstore.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewServeCommand(opts),
		commands.NewProvidersCommand(opts),
		commands.NewDoctorCommand(opts),
		commands.NewResolveCommand(opts),
		commands.NewMigrateCommand(opts),
	)

	return rootCmd.Execute()
}
