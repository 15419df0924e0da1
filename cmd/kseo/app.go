package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kseo/alerts"
	"github.com/hazyhaar/kseo/api"
	"github.com/hazyhaar/kseo/audit"
	"github.com/hazyhaar/kseo/auth"
	"github.com/hazyhaar/kseo/cache"
	"github.com/hazyhaar/kseo/config"
	"github.com/hazyhaar/kseo/dbopen"
	"github.com/hazyhaar/kseo/detect"
	"github.com/hazyhaar/kseo/jobs"
	"github.com/hazyhaar/kseo/keyring"
	"github.com/hazyhaar/kseo/kit"
	"github.com/hazyhaar/kseo/kseosafe"
	"github.com/hazyhaar/kseo/ratelimit"
	"github.com/hazyhaar/kseo/shield"
	"github.com/hazyhaar/kseo/sitemap"
	"github.com/hazyhaar/kseo/store"
	"github.com/hazyhaar/kseo/vtq"

	_ "modernc.org/sqlite"
)

// app holds the wired components of one kseo process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB
	store   *store.Store
	audit   *audit.Logger
	keyring *keyring.Keyring // nil when no key source is configured
	flags   *cache.SQLite
	counter cache.Store
	limiter *ratelimit.Limiter
	alerter *alerts.Alerter
	queue   *vtq.Q
	runner  *jobs.Runner // nil when no sitemap is configured
}

// openDB opens the database with every table kseo uses.
func openDB(cfg *config.Config) (*sql.DB, *store.Store, error) {
	db, err := dbopen.Open(cfg.Database.Path,
		dbopen.WithMkdirAll(),
		dbopen.WithBusyTimeout(cfg.Database.BusyTimeoutMs),
		dbopen.WithSchema(store.Schema, ratelimit.Schema, shield.Schema,
			audit.Schema, cache.Schema, vtq.Schema))
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return db, store.New(db), nil
}

// loadKeyring builds the keyring from config. Without keys or host secrets
// it returns nil, nil.
func loadKeyring(cfg *config.Config, logger *slog.Logger) (*keyring.Keyring, error) {
	k := cfg.Keyring
	if k.Keys == "" && k.HostSecret == "" && !k.RequireExplicit {
		return nil, nil
	}
	src, err := keyring.Resolve(k.Keys, k.Active, k.HostSecret, k.HostSalt)
	if err != nil {
		return nil, err
	}
	opts := []keyring.Option{keyring.WithCipher(k.Cipher), keyring.WithLogger(logger)}
	if k.RequireExplicit {
		opts = append(opts, keyring.WithRequireExplicit())
	}
	return keyring.New(src, opts...)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, st, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db, store: st}
	a.audit = audit.New(db, 256, audit.WithLogger(logger))

	a.keyring, err = loadKeyring(cfg, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("keyring: %w", err)
	}
	if a.keyring != nil {
		cfg.RevealSecrets(a.keyring)
	}

	a.flags = cache.NewSQLite(db)
	if n, err := a.flags.Purge(ctx); err != nil {
		logger.Warn("cache: startup purge failed", "error", err)
	} else if n > 0 {
		logger.Debug("cache: expired rows purged at startup", "rows", n)
	}
	a.counter = cache.NewMemory()
	if cfg.RateLimit.Store == "sqlite" {
		a.counter = a.flags
	}
	a.limiter = ratelimit.New(ratelimit.Config{
		Store:  a.counter,
		DB:     db,
		Routes: cfg.RateLimit.Routes,
		Logger: logger,
	})

	var notifiers []alerts.Notifier
	if e := cfg.Alerts.Email; e.Enabled {
		ch, err := alerts.NewEmail(alerts.EmailConfig{
			Addr: e.Addr, Username: e.Username, Password: e.Password, From: e.From, To: e.To,
		}, nil)
		if err != nil {
			logger.Warn("alerts: email channel disabled", "error", err)
		} else {
			notifiers = append(notifiers, ch)
		}
	}
	if w := cfg.Alerts.Webhook; w.URL != "" {
		ch, err := alerts.NewWebhook(alerts.WebhookConfig{URL: w.URL, Secret: w.Secret, AllowPrivate: w.AllowPrivate})
		if err != nil {
			logger.Warn("alerts: webhook channel disabled", "error", err)
		} else {
			notifiers = append(notifiers, ch)
		}
	}
	a.alerter = alerts.New(alerts.Config{Events: st, Cache: a.flags, Notifiers: notifiers, Logger: logger})

	// Visibility outlives a full batch so a running job is not redelivered.
	a.queue = vtq.New(db, vtq.Options{
		Queue:       jobs.QueueName,
		Visibility:  2*cfg.Jobs.Budget + 30*time.Second,
		RetryDelay:  time.Minute,
		MaxAttempts: 3,
		Logger:      logger,
	})

	if cfg.Jobs.SitemapURL != "" {
		disc, err := sitemap.NewColly(sitemap.Config{URL: cfg.Jobs.SitemapURL, Logger: logger})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("jobs: %w", err)
		}
		resolver := sitemap.NewPageResolver()
		resolver.AllowPrivate = cfg.Jobs.AllowPrivate
		a.runner = jobs.New(jobs.Deps{
			Store:      st,
			Discoverer: disc,
			Resolver:   resolver,
			Detectors: []jobs.Scanner{
				&detect.Cannibalization{Store: st, Cache: a.flags, Logger: logger},
				&detect.Decay{Store: st, Cache: a.flags, Logger: logger},
			},
			Alerts: a.alerter,
			Queue:  a.queue,
			Cache:  a.flags,
		}, jobs.Config{
			MaxURLs:     cfg.Jobs.MaxURLs,
			Budget:      cfg.Jobs.Budget,
			ResumeDelay: cfg.Jobs.ResumeDelay,
			Interval:    cfg.Jobs.Interval,
			Logger:      logger,
		})
	}
	return a, nil
}

// service returns the transport-neutral API service. Batch triggers are
// only accepted when this process consumes the queue.
func (a *app) service() *api.Service {
	svc := &api.Service{Store: a.store, Audit: a.audit, Logger: a.logger}
	if a.runner != nil && a.cfg.Jobs.Enabled {
		svc.Jobs = a.runner
	}
	return svc
}

// handler builds the HTTP handler with MCP mounted at /mcp.
func (a *app) handler() (http.Handler, *shield.MaintenanceMode) {
	svc := a.service()
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "kseo", Version: "1.0.0"}, nil)
	svc.RegisterMCP(mcpSrv)

	var secret []byte
	if s := a.cfg.Auth.JWTSecret; s != "" {
		if err := kseosafe.ValidateSecret([]byte(s)); err != nil {
			a.logger.Warn("auth: jwt identities disabled", "error", err)
		} else {
			secret = []byte(s)
		}
	}
	return svc.Router(api.RouterConfig{
		DB:           a.db,
		MaxBody:      a.cfg.Server.MaxBodyBytes,
		Auth:         auth.NewAuthenticator(secret, a.store, a.logger),
		Limiter:      a.limiter,
		DefaultLimit: a.cfg.RateLimit.DefaultPerMinute,
		MCP:          mcpSrv,
	})
}

func (a *app) close() {
	a.audit.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close db", "error", err)
	}
}

// auditCLI records an operator action run from the command line.
func auditCLI(ctx context.Context, db *sql.DB, action string, params any, opErr error) {
	l := audit.New(db, 1, audit.WithLogger(logger))
	defer l.Close()
	l.Record(kit.WithActor(ctx, "cli:"+env("USER", "unknown")), "cli", action, params, opErr, 0)
}
