package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pawdesk/pawdesk/internal/app"
	"github.com/pawdesk/pawdesk/internal/assignments"
	"github.com/pawdesk/pawdesk/internal/audit"
	audithttp "github.com/pawdesk/pawdesk/internal/audit/http"
	"github.com/pawdesk/pawdesk/internal/auth"
	"github.com/pawdesk/pawdesk/internal/engine"
	"github.com/pawdesk/pawdesk/internal/identity"
	"github.com/pawdesk/pawdesk/internal/identity/localidp"
	"github.com/pawdesk/pawdesk/internal/observability"
	"github.com/pawdesk/pawdesk/internal/platform/cache"
	"github.com/pawdesk/pawdesk/internal/platform/db"
	"github.com/pawdesk/pawdesk/internal/rbac"
	"github.com/pawdesk/pawdesk/internal/roles"
	roleshttp "github.com/pawdesk/pawdesk/internal/roles/http"
	usershttp "github.com/pawdesk/pawdesk/internal/users/http"
	"github.com/pawdesk/pawdesk/jobs"
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
	roleCache := roles.NewRedisPermissionCache(redisClient, cfg.RoleCacheTTL)
	roleService := roles.NewService(roleRepo, roleCache)
	if err := roleService.Bootstrap(ctx); err != nil {
		logger.Error("seed system roles", slog.Any("error", err))
		os.Exit(1)
	}

	assignmentRepo := assignments.NewRepository(dbpool)
	assignmentService := assignments.NewService(assignmentRepo, roleService, assignments.ElevationPolicy{
		TrustedDomain: cfg.TrustedDomain,
		DevOverride:   cfg.ElevationOverride(),
	})

	auditService := audit.NewService(audit.NewRepository(dbpool))
	bridge := identity.NewBridge(idp, cfg.ClaimPushTimeout, logger)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	eng := engine.New(engine.Params{
		Roles:       roleService,
		Assignments: assignmentService,
		Bridge:      bridge,
		Directory:   idp,
		Audit:       auditService,
		Marker:      assignmentRepo,
		Retrier:     jobsClient,
		Locks:       engine.NewRedisLocker(redisClient, cfg.SyncLockTTL),
		Metrics:     metrics,
		Logger:      logger,
		Concurrency: cfg.FanOutConcurrency,
	})

	rbacMiddleware := rbac.Middleware{
		Verifier:    idp,
		Assignments: assignmentService,
		Roles:       roleService,
		Logger:      logger,
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AuthHandler:  auth.NewHandler(logger, idp),
		RolesHandler: roleshttp.NewHandler(logger, eng, roleService),
		UsersHandler: usershttp.NewHandler(logger, eng, assignmentService, idp),
		AuditHandler: audithttp.NewHandler(logger, auditService),
		JobsHandler:  jobs.NewHandler(inspector, logger),
		RBAC:         rbacMiddleware,
		Metrics:      metrics,
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
