package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/pawdesk/pawdesk/internal/app"
	"github.com/pawdesk/pawdesk/internal/assignments"
	"github.com/pawdesk/pawdesk/internal/audit"
	"github.com/pawdesk/pawdesk/internal/engine"
	"github.com/pawdesk/pawdesk/internal/identity"
	"github.com/pawdesk/pawdesk/internal/identity/localidp"
	jobmetrics "github.com/pawdesk/pawdesk/internal/jobs"
	"github.com/pawdesk/pawdesk/internal/platform/cache"
	"github.com/pawdesk/pawdesk/internal/platform/db"
	"github.com/pawdesk/pawdesk/internal/roles"
	"github.com/pawdesk/pawdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	idp := localidp.New(localidp.NewStore(dbpool), redisClient, localidp.Options{
		Secret:   cfg.TokenSecret,
		Issuer:   cfg.TokenIssuer,
		TokenTTL: cfg.TokenTTL,
	})

	roleRepo := roles.NewRepository(dbpool)
	roleService := roles.NewService(roleRepo, roles.NewRedisPermissionCache(redisClient, cfg.RoleCacheTTL))

	assignmentRepo := assignments.NewRepository(dbpool)
	assignmentService := assignments.NewService(assignmentRepo, roleService, assignments.ElevationPolicy{
		TrustedDomain: cfg.TrustedDomain,
		DevOverride:   cfg.ElevationOverride(),
	})

	bridge := identity.NewBridge(idp, cfg.ClaimPushTimeout, logger)

	eng := engine.New(engine.Params{
		Roles:       roleService,
		Assignments: assignmentService,
		Bridge:      bridge,
		Directory:   idp,
		Audit:       audit.NewService(audit.NewRepository(dbpool)),
		Marker:      assignmentRepo,
		Locks:       engine.NewRedisLocker(redisClient, cfg.SyncLockTTL),
		Logger:      logger,
		Concurrency: cfg.FanOutConcurrency,
	})

	taskMetrics := jobmetrics.NewMetrics(nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskClaimsPush, Handler: jobs.NewClaimsPushHandler(bridge, assignmentRepo, logger, taskMetrics)},
			{Type: jobs.TaskClaimsReconcile, Handler: jobs.NewClaimsReconcileHandler(assignmentRepo, eng, cfg.ReconcileCutoff, logger, taskMetrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.ReconcileInterval.String(), Task: jobs.NewClaimsReconcileTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
