package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"proppy/api/internal/analytics"
	"proppy/api/internal/app"
	"proppy/api/internal/archive"
	"proppy/api/internal/eligibility"
	"proppy/api/internal/email"
	"proppy/api/internal/logging"
	"proppy/api/internal/render"
	"proppy/api/internal/search"
	"proppy/api/internal/signing"
	"proppy/api/internal/store"
)

// runtime is a wired service plus the connections it owns.
type runtime struct {
	service *app.Service
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openRuntime connects every configured backend and builds the service.
// Optional backends left unconfigured disable their feature.
func openRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{}
	deps := app.Dependencies{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if cfg.SigningKeyPath != "" {
		keys, err := signing.LoadKeyPair(cfg.SigningKeyPath)
		if err != nil {
			return nil, err
		}
		deps.Signer = keys
	}

	plans, err := eligibility.LoadPlans(cfg.PlansFile)
	if err != nil {
		return nil, err
	}
	deps.Plans = &plans

	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		deps.Ledger = archive.New(cfg.ArchiveDir)
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		rt.closers = append(rt.closers, meili.Close)
		deps.SearchEngine = meili
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := analytics.NewRedisCache(cfg.RedisURL, cfg.AnalyticsCacheTTL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = cache.Close() })
		deps.Cache = cache
		logging.Log.Info("using redis for the analytics cache")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := render.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		deps.Objects = objects
		deps.Printer = render.NewChromePrinter()
	}

	switch cfg.StoreDriver {
	case "memory":
		logging.Log.Warn("using the in-memory store, data is lost on exit")
		data := store.NewMemoryStore()
		deps.Mailer = mailer(data)
		rt.service, err = app.New(cfg, data, deps)
	case "postgres":
		db, err := openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		data := store.NewPostgresStore(db)
		deps.Mailer = mailer(data)
		rt.service, err = app.New(cfg, data, deps)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}

	ok = true
	return rt, nil
}

func openDatabase(ctx context.Context) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return db, nil
}

func mailer(team app.TeamDirectory) app.Mailer {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil
	}
	sender := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
	})
	return app.NewSMTPMailer(sender, team)
}
