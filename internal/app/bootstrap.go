// Package app is the composition root: bootstrap wires configuration,
// the database pool, the kernel pipeline, the River relay, and the HTTP
// router, and stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"bizforge.io/platform/internal/api/handlers"
	"bizforge.io/platform/internal/config"
	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/identity"
	"bizforge.io/platform/internal/infrastructure"
	"bizforge.io/platform/internal/jobs"
	"bizforge.io/platform/internal/kernel"
	"bizforge.io/platform/internal/kernel/commit"
	"bizforge.io/platform/internal/kernel/deliver"
	"bizforge.io/platform/internal/kernel/governor"
	"bizforge.io/platform/internal/kernel/handler"
	"bizforge.io/platform/internal/kernel/jobquota"
	"bizforge.io/platform/internal/kernel/outbox"
	"bizforge.io/platform/internal/kernel/plan"
	"bizforge.io/platform/internal/kernel/ratelimit"
	"bizforge.io/platform/internal/pkg/worker"
	"bizforge.io/platform/internal/registry"
	"bizforge.io/platform/internal/repository"
	"bizforge.io/platform/internal/workflow"
)

// Application holds composed application dependencies.
type Application struct {
	Config     *config.Config
	Router     *gin.Engine
	DB         *infrastructure.DatabaseClients
	Pools      *worker.Pools
	Kernel     *kernel.Orchestrator
	Registry   *registry.Registry
	Dispatcher *domain.IntentDispatcher
}

// Bootstrap initializes all dependencies with manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		DeliverPoolSize: cfg.Worker.DeliverPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	// Entity catalog and per-entity handlers.
	reg := registry.New()
	if err := registry.Seed(reg); err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("seed registry: %w", err)
	}
	entityHandlers := handler.NewRegistry()

	// Stores on the shared pool.
	entityStore := repository.NewEntityStore(db.Pool)
	auditStore := repository.NewAuditStore(db.Pool)
	versionStore := repository.NewVersionStore(db.Pool)
	outboxStore := repository.NewOutboxStore(db.Pool)
	usageStore := repository.NewUsageStore(db.Pool)

	// Kernel pipeline.
	wf := workflow.NoopEvaluator{}
	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	quota := jobquota.New(cfg.Quota.MaxConcurrent, cfg.Quota.MaxEnqueuePerMinute)
	planner := plan.NewBuilder(reg, entityHandlers, limiter, entityStore, auditStore, wf)
	commits := commit.NewExecutor(db.Pool, governor.New(cfg.Governor),
		entityStore, versionStore, auditStore, outbox.NewWriter(outboxStore), entityHandlers)
	delivers := deliver.NewExecutor(pools, nil, wf, usageStore)
	orchestrator := kernel.New(reg, planner, commits, delivers)

	// Outbox relay.
	dispatcher := domain.NewIntentDispatcher()
	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewOutboxRelayWorker(outboxStore, dispatcher, quota, cfg.River.RelayBatchSize))
	if err := db.InitRiverClient(workers, cfg.River); err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}
	db.RiverClient.PeriodicJobs().Add(jobs.PeriodicRelay(cfg.River.RelayInterval))

	server := handlers.NewServer(orchestrator, identity.NewResolver(db.Pool))

	return &Application{
		Config:     cfg,
		Router:     newRouter(server, db, []byte(cfg.Auth.JWTSigningKey)),
		DB:         db,
		Pools:      pools,
		Kernel:     orchestrator,
		Registry:   reg,
		Dispatcher: dispatcher,
	}, nil
}
