package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripstack/credstore/internal/config"
	"github.com/tripstack/credstore/internal/registry"
	"github.com/tripstack/credstore/internal/sealed"
	"github.com/tripstack/credstore/internal/store"
	"github.com/tripstack/credstore/pkg/credential"
)

// NewDoctorCommand diagnoses the service's dependencies.
func NewDoctorCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database, and encryption service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			logger := opts.Logger
			failed := false

			if err := registry.SelfCheck(); err != nil {
				logger.Error("provider registry: %v", err)
				failed = true
			} else {
				logger.Info("provider registry: ok")
			}

			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				logger.Error("configuration: %v", err)
				return fmt.Errorf("doctor found problems")
			}
			logger.Info("configuration: ok")

			db, _, err := store.Open(ctx, cfg.Database.Type, cfg.Database.DSN)
			if err != nil {
				logger.Error("database: %v", err)
				failed = true
			} else {
				logger.Info("database: connected (%s)", cfg.Database.Type)
				_ = db.Close()
			}

			if err := checkEncryption(ctx, cfg); err != nil {
				logger.Error("encryption service: %v", err)
				failed = true
			} else {
				logger.Info("encryption service: ok")
			}

			reportEnvironment(opts)

			if failed {
				return fmt.Errorf("doctor found problems")
			}
			logger.Info("all checks passed")
			return nil
		},
	}
}

// checkEncryption round-trips a throwaway payload through the
// encryption service.
func checkEncryption(ctx context.Context, cfg config.Config) error {
	client, err := sealed.NewServiceClient(cfg.Encryption.URL, []byte(cfg.Encryption.Token), cfg.Encryption.Timeout)
	if err != nil {
		return err
	}
	probe := map[string]string{"doctor": "probe"}
	blob, err := client.Seal(ctx, probe)
	if err != nil {
		return err
	}
	out, err := client.Unseal(ctx, blob)
	if err != nil {
		return err
	}
	if out["doctor"] != "probe" {
		return fmt.Errorf("decrypt returned a different payload")
	}
	return nil
}

// reportEnvironment prints which provider environment variables are set.
// Values are never printed.
func reportEnvironment(opts *Options) {
	for _, cfg := range registry.All() {
		if cfg.Policy == credential.PolicyDBOnly {
			continue
		}
		var present, missing []string
		for _, envVar := range cfg.EnvMap {
			if strings.TrimSpace(os.Getenv(envVar)) != "" {
				present = append(present, envVar)
			} else {
				missing = append(missing, envVar)
			}
		}
		sort.Strings(present)
		sort.Strings(missing)
		switch {
		case len(missing) == 0:
			opts.Logger.Info("%s environment: complete", cfg.Provider)
		case len(present) == 0:
			opts.Logger.Warn("%s environment: not configured", cfg.Provider)
		default:
			opts.Logger.Warn("%s environment: partial (missing %s)", cfg.Provider, strings.Join(missing, ", "))
		}
	}
}
