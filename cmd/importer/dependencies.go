package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/statement-import/internal/domain/import/commit"
	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
	"github.com/FACorreiaa/statement-import/internal/domain/import/repository"
	"github.com/FACorreiaa/statement-import/internal/domain/import/service"
	"github.com/FACorreiaa/statement-import/pkg/config"
	"github.com/FACorreiaa/statement-import/pkg/cron"
	"github.com/FACorreiaa/statement-import/pkg/db"
	"github.com/FACorreiaa/statement-import/pkg/metrics"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *db.DB

	Registry      *profile.Registry
	Parser        *parser.Parser
	Store         commit.TransactionStore
	Gate          *commit.Gate
	Metrics       *metrics.ImportMetrics
	ImportService *service.ImportService
	Scheduler     *cron.Scheduler

	metricsServer *http.Server
	closers       []func() error
}

// initOptions are per-command switches that override configuration.
type initOptions struct {
	// DryRun forces the in-memory store so nothing is persisted.
	DryRun bool
	// NeedStore is false for commands that never commit.
	NeedStore bool
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts initOptions) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initRegistry(); err != nil {
		return nil, fmt.Errorf("failed to init profiles: %w", err)
	}

	if err := deps.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	if opts.NeedStore {
		if err := deps.initStore(ctx, opts.DryRun); err != nil {
			deps.Cleanup()
			return nil, fmt.Errorf("failed to init store: %w", err)
		}
	}

	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	logger.Debug("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initRegistry() error {
	var err error
	if path := d.Config.Import.ProfilesPath; path != "" {
		d.Registry, err = profile.LoadFile(path)
	} else {
		d.Registry, err = profile.Default()
	}
	if err != nil {
		return err
	}
	d.Logger.Debug("profiles loaded", slog.Int("count", len(d.Registry.Profiles())))
	return nil
}

func (d *Dependencies) initMetrics() error {
	if !d.Config.Observability.MetricsEnabled {
		return nil
	}
	m, err := metrics.NewImportMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	d.Metrics = m

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	d.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", d.Config.Observability.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.Logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// initStore picks the TransactionStore backend and runs migrations where
// the backend has a schema to manage.
func (d *Dependencies) initStore(ctx context.Context, dryRun bool) error {
	backend := d.Config.Store.Backend
	if dryRun {
		backend = config.StoreMemory
	}

	switch backend {
	case config.StoreMemory:
		d.Store = commit.NewMemoryStore()

	case config.StorePostgres:
		database, err := db.New(ctx, db.Config{
			DSN:             d.Config.Database.DSN(),
			MaxConns:        int32(d.Config.Database.MaxConns),
			MaxConnLifetime: 5 * time.Minute,
			MaxConnIdleTime: 10 * time.Minute,
		}, d.Logger)
		if err != nil {
			return err
		}
		d.DB = database
		if err := d.DB.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		d.Store = repository.NewPostgresTransactionStore(d.DB.Pool)

	case config.StoreBigQuery:
		bq, err := repository.NewBigQueryTransactionStore(ctx, d.Config.BigQuery.Project, d.Config.BigQuery.Dataset, d.Config.BigQuery.Table)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, bq.Close)
		d.Store = bq

	default:
		return fmt.Errorf("unknown store backend %q", backend)
	}

	d.Logger.Debug("store initialized", slog.String("backend", backend))
	return nil
}

func (d *Dependencies) initServices() error {
	d.Parser = parser.NewParser(d.Registry, parser.Config{
		MaxBytes: d.Config.Import.MaxBytes,
		MaxRows:  d.Config.Import.MaxRows,
	}, d.Logger)

	fields, err := commit.ParseFingerprintFields(d.Config.Import.FingerprintFields)
	if err != nil {
		return err
	}
	if d.Store != nil {
		d.Gate = commit.NewGate(d.Store, commit.NewFingerprinter(fields), d.Logger).
			WithWindowSlack(d.Config.Import.DedupWindow)
	}

	d.ImportService = service.NewImportService(d.Parser, d.committer(), d.Logger).
		WithParseTimeout(d.Config.Import.ParseTimeout).
		WithPreviewTTL(d.Config.Import.PreviewTTL).
		WithMetrics(d.Metrics)
	if d.Config.Import.RateLimit > 0 {
		d.ImportService.WithRateLimiter(rate.NewLimiter(rate.Limit(d.Config.Import.RateLimit), max(d.Config.Import.RateBurst, 1)))
	}

	d.Scheduler = cron.NewScheduler(d.ImportService, cron.DefaultEvictionSpec, d.Logger)
	if err := d.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// committer returns the gate, or a stand-in that refuses to commit for
// commands that only parse.
func (d *Dependencies) committer() service.Committer {
	if d.Gate != nil {
		return d.Gate
	}
	return noStore{}
}

var errNoStore = errors.New("no store configured for this command")

type noStore struct{}

func (noStore) Commit(context.Context, uuid.UUID, *model.ParseResult) (*model.CommitOutcome, error) {
	return nil, errNoStore
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.Scheduler != nil {
		<-d.Scheduler.Stop().Done()
	}
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = d.metricsServer.Shutdown(ctx)
		cancel()
	}
	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil {
			d.Logger.Warn("failed to close resource", "error", err)
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Debug("cleanup completed")
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
