package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/velo-automation/velo/internal/app"
	jobmetrics "github.com/velo-automation/velo/internal/jobs"
	"github.com/velo-automation/velo/internal/observability"
	"github.com/velo-automation/velo/jobs"
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
	metrics := observability.NewMetrics()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	services, err := app.BuildServices(ctx, cfg, logger, app.ServiceOptions{
		Registerer: metrics.Registerer(),
		Notifier:   jobClient.Notifier(),
	})
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close()
	if services.Locker == nil {
		logger.Warn("redis lock unavailable, dunning passes run unlocked")
	}

	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	dunningJob := jobs.NewDunningJob(services.Service, services.Locker, cfg.DunningLockTTL, logger, jobMetrics)
	notifyJob := jobs.NewReminderNotifyJob(jobs.LogSender{Logger: logger}, logger, jobMetrics)

	cron, err := jobs.DunningCron(cfg.DunningCron, cfg.TenantList())
	if err != nil {
		logger.Error("build dunning schedule", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDunningEvaluate, Handler: dunningJob.Handle},
			{Type: jobs.TaskReminderNotify, Handler: notifyJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting worker", slog.String("cron", cfg.DunningCron), slog.Any("tenants", cfg.TenantList()))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
