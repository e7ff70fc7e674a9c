package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/activitymap"
	"github.com/goliatone/go-identity/api"
	"github.com/goliatone/go-identity/obs"
	"github.com/goliatone/go-identity/social"
	"github.com/goliatone/go-identity/social/providers/facebook"
	"github.com/goliatone/go-identity/social/providers/github"
	"github.com/goliatone/go-identity/social/providers/google"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

const shutdownTimeout = 15 * time.Second

func openDB(cfg identity.Config) (*bun.DB, error) {
	var db *bun.DB
	switch cfg.DatabaseDriver {
	case "postgres":
		sqldb, err := sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.DatabaseDebug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db, nil
}

func oauthProviders(cfg identity.Config) []social.Option {
	var opts []social.Option
	client := func(c identity.OAuthClientConfig) social.ClientConfig {
		return social.ClientConfig{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			CallbackURL:  c.CallbackURL,
			Scopes:       c.Scopes,
		}
	}
	if cfg.Google.Enabled() {
		opts = append(opts, social.WithProvider(google.New(google.Config{ClientConfig: client(cfg.Google)})))
	}
	if cfg.GitHub.Enabled() {
		opts = append(opts, social.WithProvider(github.New(github.Config{ClientConfig: client(cfg.GitHub)})))
	}
	if cfg.Facebook.Enabled() {
		opts = append(opts, social.WithProvider(facebook.New(facebook.Config{ClientConfig: client(cfg.Facebook)})))
	}
	return opts
}

func run(ctx context.Context, cfg identity.Config, logger identity.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := identity.CreateSchema(ctx, db); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	metrics := obs.NewMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	activity := identity.MultiActivitySink{
		metrics,
		activitymap.NewLoggerActivitySink(logger),
	}

	mgr := identity.NewManager(identity.NewRepositoryManager(db), cfg,
		identity.WithLogger(logger),
		identity.WithActivitySink(activity),
	)
	if err := mgr.SeedSystemRoles(ctx); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	if providers := oauthProviders(cfg); len(providers) > 0 {
		opts := append(providers, social.WithLogger(logger))
		auth, err := social.NewAuthenticator(mgr.Linking(), mgr.Sessions(), social.Config{
			StateEncryptionKey: []byte(cfg.StateEncryptionKey),
			StateHMACKey:       []byte(cfg.StateHMACKey),
			StateTTL:           cfg.StateTTL,
			DefaultRedirectURL: cfg.OAuthRedirectURL,
		}, opts...)
		if err != nil {
			return fmt.Errorf("oauth: %w", err)
		}
		mgr.SetOAuthFlow(auth)
		logger.Info("oauth providers enabled: %v", auth.Providers())
	}

	sweeper := identity.NewSweeper(cfg.SweepInterval, logger).
		Add("pending_registrations", metrics.Purger("pending_registrations", mgr.Registration())).
		Add("sessions", metrics.Purger("sessions", mgr.Sessions()))
	go sweeper.Run(ctx)

	app := api.New(mgr,
		api.WithLogger(logger),
		api.WithMetrics(metrics),
		api.WithRateLimit(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("identityd listening on %s", cfg.HTTPAddr)
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("identityd stopped")
	return nil
}
