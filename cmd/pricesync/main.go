// Command pricesync reconciles storefront prices and stock against the
// accounting package's item exports.
//
// By default it runs once and exits. With -serve it starts the run API and,
// when SCHEDULE_INTERVAL is set, a periodic scheduler.
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
	"strconv"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/pricesync/internal/catalog/shopify"
	"github.com/JonMunkholm/pricesync/internal/config"
	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/logging"
	"github.com/JonMunkholm/pricesync/internal/outcome"
	"github.com/JonMunkholm/pricesync/internal/reconcile"
	"github.com/JonMunkholm/pricesync/internal/report"
	"github.com/JonMunkholm/pricesync/internal/web"
)

type flags struct {
	envFile          string
	itemData         string
	postedData       string
	previousItemData string
	writeLogs        bool
	dryRun           bool
	serve            bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var f flags
	flag.StringVar(&f.envFile, "config", "", "Env file to load settings from (default: .env if present)")
	flag.StringVar(&f.itemData, "item-data", "", "Item export path. Env: REPORT_ITEM_PATH")
	flag.StringVar(&f.postedData, "posted-data", "", "Posted stock export path. Env: REPORT_POSTED_PATH")
	flag.StringVar(&f.previousItemData, "previous-item-data", "", "Earlier item export; only changed products are reconciled. Env: REPORT_PREVIOUS_ITEM_PATH")
	flag.BoolVar(&f.writeLogs, "write-logs", false, "Write outcome files to OUTPUT_LOG_DIR instead of stdout. Env: OUTPUT_WRITE_LOGS")
	flag.BoolVar(&f.dryRun, "dry", false, "Classify and log without sending updates. Env: RECONCILE_DRY_RUN")
	flag.BoolVar(&f.serve, "serve", false, "Serve the run API instead of running once")
	flag.Parse()

	if err := applyFlags(f); err != nil {
		slog.Error("failed to apply flags", "error", err)
		return 1
	}

	var envFiles []string
	if f.envFile != "" {
		envFiles = append(envFiles, f.envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := shopify.New(shopify.Config{
		ShopDomain:        cfg.Shopify.ShopDomain,
		AccessToken:       cfg.Shopify.AccessToken,
		APIVersion:        cfg.Shopify.APIVersion,
		LocationID:        cfg.Shopify.LocationID,
		PageSize:          cfg.Shopify.PageSize,
		RequestsPerSecond: cfg.Shopify.RequestsPerSecond,
		Timeout:           cfg.Shopify.Timeout,
	})
	if err != nil {
		slog.Error("failed to create shopify client", "error", err)
		return 1
	}

	opts := serviceOptions(cfg, f.serve)

	if cfg.Database.URL != "" {
		pool, err := openAuditDB(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to open audit database", "error", err)
			return 1
		}
		defer pool.Close()
		opts.Audit = core.AuditOptions{DB: pool, BatchSize: cfg.Database.AuditBatchSize}
	}

	service := core.NewService(client, client, opts)

	if f.serve {
		return serve(ctx, cfg, service)
	}
	return runOnce(ctx, service)
}

// applyFlags exports explicitly set flags as their environment variables,
// so they win over env files and go through the same validation.
func applyFlags(f flags) error {
	env := map[string]string{
		"item-data":          "REPORT_ITEM_PATH=" + f.itemData,
		"posted-data":        "REPORT_POSTED_PATH=" + f.postedData,
		"previous-item-data": "REPORT_PREVIOUS_ITEM_PATH=" + f.previousItemData,
		"write-logs":         "OUTPUT_WRITE_LOGS=" + strconv.FormatBool(f.writeLogs),
		"dry":                "RECONCILE_DRY_RUN=" + strconv.FormatBool(f.dryRun),
	}

	var err error
	flag.Visit(func(fl *flag.Flag) {
		kv, ok := env[fl.Name]
		if !ok || err != nil {
			return
		}
		key, value, _ := strings.Cut(kv, "=")
		err = os.Setenv(key, value)
	})
	return err
}

func serviceOptions(cfg *config.Config, serve bool) core.Options {
	r := cfg.Reports
	return core.Options{
		Reports: report.LoadOptions{
			ItemPath:           r.ItemPath,
			PostedPath:         r.PostedPath,
			PreviousItemPath:   r.PreviousItemPath,
			PreviousPostedPath: r.PreviousPostedPath,
			ItemColumns: report.ItemColumns{
				SKU:         r.ItemSKUColumn,
				Description: r.ItemDescriptionColumn,
				UPCs:        r.ItemUPCColumn,
				ListPrice:   r.ItemListPriceColumn,
				Cost:        r.ItemCostColumn,
			},
			PostedColumns: report.PostedColumns{
				SKU:   r.PostedSKUColumn,
				Stock: r.PostedStockColumn,
			},
			Read: report.ReadOptions{Encoding: r.Encoding, Sheet: r.Sheet},
		},
		Reconcile: reconcile.Options{
			DryRun:    cfg.Reconcile.DryRun,
			Workers:   cfg.Reconcile.Workers,
			SyncStock: cfg.Reconcile.SyncStock,
		},
		Output: core.OutputOptions{
			WriteLogs: cfg.Output.WriteLogs,
			LogDir:    cfg.Output.LogDir,
			// A long-lived server keeps each run's files apart.
			PerRunDir: serve,
		},
		Timeout:       cfg.Reconcile.Timeout,
		MaxConcurrent: cfg.Reconcile.MaxConcurrent,
		MaxWaitTime:   cfg.Reconcile.MaxWaitTime,
		HistorySize:   cfg.Reconcile.HistorySize,
	}
}

func openAuditDB(ctx context.Context, db config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(db.MaxConns)
	poolConfig.MinConns = int32(db.MinConns)
	poolConfig.MaxConnLifetime = db.MaxConnLifetime
	poolConfig.MaxConnIdleTime = db.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := outcome.EnsureAuditSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("audit database connected", "table", outcome.AuditTable)
	return pool, nil
}

// runOnce exits non-zero when the run fails or paging ended early.
func runOnce(ctx context.Context, service *core.Service) int {
	rec, err := service.Run(ctx, core.RunRequest{Trigger: core.TriggerCLI})
	if err != nil {
		slog.Error("run failed", "error", err)
		return 1
	}
	if rec.Status != core.StatusSucceeded {
		slog.Error("run incomplete", "run_id", rec.ID, "status", rec.Status, "fetch_error", rec.FetchError)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, service *core.Service) int {
	server := web.NewServer(service, cfg.Server, cfg.Security)

	go service.StartScheduler(ctx, cfg.Schedule.Interval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	status := service.LimiterStatus()
	if status.Active > 0 {
		slog.Info("waiting for runs to complete", "active", status.Active)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		slog.Warn("runs did not complete in time", "error", err)
		return 1
	}
	return 0
}
