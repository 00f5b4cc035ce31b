package commands

import (
	"context"
	"database/sql"

	"github.com/tripstack/credstore/internal/cache"
	"github.com/tripstack/credstore/internal/config"
	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/internal/resolver"
	"github.com/tripstack/credstore/internal/sealed"
	"github.com/tripstack/credstore/internal/store"
)

// Options carries flag state from the root command into subcommands.
type Options struct {
	ConfigPath string
	Debug      bool
	Logger     *logging.Logger
}

// app is the wired service stack shared by subcommands.
type app struct {
	cfg      config.Config
	db       *sql.DB
	driver   string
	store    *store.Store
	resolver *resolver.Resolver
	logger   *logging.Logger
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildApp loads config and wires the database, encryption client,
// store, and resolver.
func buildApp(ctx context.Context, opts *Options) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	db, driver, err := store.Open(ctx, cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	sealer, err := sealed.NewServiceClient(cfg.Encryption.URL, []byte(cfg.Encryption.Token), cfg.Encryption.Timeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	fieldCache := cache.New(cfg.CacheTTL)
	st := store.New(db, driver, sealer, fieldCache, opts.Logger)
	res := resolver.New(st, opts.Logger)

	return &app{
		cfg:      cfg,
		db:       db,
		driver:   driver,
		store:    st,
		resolver: res,
		logger:   opts.Logger,
	}, nil
}
