package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian/internal/approval"
	"github.com/meridian-erp/meridian/internal/app"
	"github.com/meridian-erp/meridian/internal/audit"
	audithttp "github.com/meridian-erp/meridian/internal/audit/http"
	"github.com/meridian-erp/meridian/internal/directory"
	"github.com/meridian-erp/meridian/internal/inventory"
	"github.com/meridian-erp/meridian/internal/observability"
	"github.com/meridian-erp/meridian/internal/platform/cache"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/purchase"
	"github.com/meridian-erp/meridian/internal/shared"
	"github.com/meridian-erp/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	stockMutex := cache.NewMutex(redisClient, cfg.StockLockTTL)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	directoryRepo := directory.NewRepository(pool)
	directoryService := directory.NewService(directoryRepo, cfg.SystemActorID, logger)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, stockMutex, logger)

	auditRepo := audit.NewRepository(pool)
	auditLedger := audit.NewLedger(auditRepo, logger)
	auditHandler := audithttp.NewHandler(logger, auditLedger)

	approvalRepo := approval.NewRepository(pool)
	initialRuleset, err := approvalRepo.LoadRuleset(ctx)
	if err != nil {
		logger.Error("load approval thresholds", slog.Any("error", err))
		os.Exit(1)
	}
	policyStore := approval.NewStore(approvalRepo, logger, initialRuleset)
	go reloadRuleset(ctx, policyStore, auditLedger, cfg.SystemActorID, cfg.RulesetReloadInterval)

	metrics := observability.NewMetrics()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	events := observability.NewEventRecorder(metrics, jobs.NewQueueSink(queueClient, logger))

	purchaseRepo := purchase.NewRepository(pool)
	purchaseService := purchase.NewService(purchaseRepo, directoryService, events, logger)

	var workflowOpts []purchase.WorkflowOption
	if !cfg.RejectToDraft {
		workflowOpts = append(workflowOpts, purchase.WithRejectTarget(purchase.StatusCancelled))
	}
	purchaseWorkflow := purchase.NewWorkflow(
		purchaseRepo,
		policyStore,
		inventoryService,
		directoryService,
		idempotencyStore,
		events,
		logger,
		workflowOpts...,
	)

	purchaseHandler := purchase.NewHandler(logger, purchaseService, purchaseWorkflow)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Directory:       directoryService,
		PurchaseHandler: purchaseHandler,
		AuditHandler:    auditHandler,
		Pool:            pool,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func reloadRuleset(ctx context.Context, store *approval.Store, ledger *audit.Ledger, systemActorID int64, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := store.Version()
			if err := store.Reload(ctx); err != nil {
				continue
			}
			after := store.Version()
			if after == before {
				continue
			}
			_, _ = ledger.Append(ctx, audit.Record{
				Entity:    "approval_ruleset",
				EntityID:  strconv.FormatInt(after, 10),
				Action:    "reload",
				ActorID:   systemActorID,
				ActorName: "system",
				Diff:      audit.RulesetDiff{OldVersion: before, NewVersion: after},
			})
		}
	}
}
