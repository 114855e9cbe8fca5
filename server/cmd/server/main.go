package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // trend buckets accept any IANA zone

	"github.com/fieldgrid/fieldgrid/server/internal/alerts"
	"github.com/fieldgrid/fieldgrid/server/internal/analytics"
	"github.com/fieldgrid/fieldgrid/server/internal/api"
	"github.com/fieldgrid/fieldgrid/server/internal/auth"
	"github.com/fieldgrid/fieldgrid/server/internal/config"
	"github.com/fieldgrid/fieldgrid/server/internal/index"
	"github.com/fieldgrid/fieldgrid/server/internal/ingest"
	"github.com/fieldgrid/fieldgrid/server/internal/metrics"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
	"github.com/fieldgrid/fieldgrid/server/internal/store/sqldb"
	"github.com/fieldgrid/fieldgrid/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate", false, "apply pending schema migrations and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("fieldgrid-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"storage", sc.Storage.Driver,
		"idempotency_retention", sc.Idempotency.Retention,
		"warn_margin", sc.Classify.WarnMargin,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *migrateOnly {
		if err := runMigrations(ctx, sc.Storage); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		slog.Info("schema is up to date")
		return
	}

	st, ready, err := openStore(ctx, sc.Storage)
	if err != nil {
		slog.Error("failed to open store", "driver", sc.Storage.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := applySeed(ctx, st, sc.Catalog.SeedFile); err != nil {
		slog.Error("failed to load catalog seed", "err", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if sc.Metrics.Enabled {
		m = metrics.New()
	}

	// Commit listeners: out-of-spec alerts and websocket notifications.
	alertEngine := alerts.New(sc.Alerts, alerts.WithRecorder(m))
	hub := ws.New(m)
	go hub.Run(ctx)

	gateway := ingest.New(st, settingsFrom(sc),
		ingest.WithListener(alertEngine),
		ingest.WithListener(hub),
		ingest.WithRecorder(m),
	)
	engine := analytics.New(index.New(st), st, limitsFrom(sc), analytics.WithRecorder(m))

	sweeper := store.NewSweeper(st, sc.Idempotency.Retention, sc.Idempotency.SweepInterval, m.Purged)
	go sweeper.Run(ctx)

	// Classifier and limit tunables reload without a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(c *config.Config) {
			gateway.SetSettings(settingsFrom(c.Server))
			engine.SetLimits(limitsFrom(c.Server))
			if err := applySeed(ctx, st, c.Server.Catalog.SeedFile); err != nil {
				slog.Error("catalog seed reload failed", "err", err)
			}
		})
		if err != nil {
			slog.Warn("config watcher stopped", "err", err)
		}
	}()

	httpMux := http.NewServeMux()
	httpMux.Handle("/", api.New(gateway, engine, api.Options{
		Auth: auth.Options{
			Mode:       sc.Auth.Mode,
			Header:     sc.Auth.EffectiveHeader(),
			Key:        sc.Auth.Key(),
			KeySubject: sc.Auth.KeySubject,
			JWTSecret:  sc.Auth.JWTSecret(),
			JWTIssuer:  sc.Auth.JWTIssuer,
		},
		MaxBodyBytes: sc.Limits.MaxBodyBytes,
		RateLimit:    sc.Limits.RateLimit,
		RateWindow:   sc.Limits.RateWindow,
		Alerts:       alertEngine,
		Events:       hub,
		Ready:        ready,
	}))
	if m != nil {
		httpMux.Handle("GET "+sc.Metrics.Path, m.Handler())
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("fieldgrid-server shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	alertEngine.Wait()
}

// openStore opens the configured backend. SQL backends are migrated when
// auto_migrate is set and otherwise must already be at the latest schema.
func openStore(ctx context.Context, sc config.StorageConfig) (store.Store, func(context.Context) error, error) {
	if sc.Driver == "memory" {
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemory(), nil, nil
	}

	db, err := sqldb.Open(ctx, sqldb.Options{Driver: sc.Driver, DSN: sc.DSN(), MaxOpenConns: sc.MaxOpenConns})
	if err != nil {
		return nil, nil, err
	}
	if sc.AutoMigrate {
		err = db.Migrate()
	} else {
		err = db.CheckVersion()
	}
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, db.SQL().PingContext, nil
}

func runMigrations(ctx context.Context, sc config.StorageConfig) error {
	if sc.Driver == "memory" {
		return errors.New("the memory store has no schema to migrate")
	}
	db, err := sqldb.Open(ctx, sqldb.Options{Driver: sc.Driver, DSN: sc.DSN()})
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate()
}

// applySeed upserts the catalog seed file's projects and test types.
func applySeed(ctx context.Context, r store.Records, path string) error {
	if path == "" {
		return nil
	}
	seed, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	projects, testTypes := seed.Catalog(time.Now())
	for _, p := range projects {
		if err := r.PutProject(ctx, p); err != nil {
			return fmt.Errorf("project %q: %w", p.ID, err)
		}
	}
	for _, tt := range testTypes {
		if err := r.PutTestType(ctx, tt); err != nil {
			return fmt.Errorf("test type %q: %w", tt.ID, err)
		}
	}
	slog.Info("catalog seeded", "path", path, "projects", len(projects), "test_types", len(testTypes))
	return nil
}

func settingsFrom(sc config.ServerConfig) ingest.Settings {
	return ingest.Settings{
		WarnMargin:    sc.Classify.WarnMargin,
		MaxBatchItems: sc.Limits.MaxBatchItems,
	}
}

func limitsFrom(sc config.ServerConfig) analytics.Limits {
	return analytics.Limits{
		DefaultPageSize: sc.Limits.DefaultPageSize,
		MaxPageSize:     sc.Limits.MaxPageSize,
		MaxGridCells:    sc.Limits.MaxGridCells,
		MaxOutOfSpec:    sc.Limits.MaxOutOfSpec,
		DefaultCellSize: sc.Coverage.DefaultCellSize,
	}
}
