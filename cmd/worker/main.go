package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/clearsight-optics/clearsight/internal/app"
	"github.com/clearsight-optics/clearsight/internal/catalog"
	"github.com/clearsight-optics/clearsight/internal/notify"
	"github.com/clearsight-optics/clearsight/internal/platform/db"
	"github.com/clearsight-optics/clearsight/internal/quotations"
	"github.com/clearsight-optics/clearsight/internal/shared"
	"github.com/clearsight-optics/clearsight/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, nil)

	quotationRepo := quotations.NewRepository(pool)
	// The sweep never notifies; expiry is a bookkeeping transition.
	quotationService := quotations.NewService(quotationRepo, catalogService, nil, auditLogger, logger, quotations.ServiceConfig{
		SplitCustomerApproved: cfg.SplitCustomerApproved,
		OptimisticLocking:     cfg.OptimisticLocking,
	})

	mailer := jobs.NewMailer(jobs.MailerConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}, logger)

	expireTask, err := jobs.NewExpireQuotationsTask(cfg.ExpirySweepBatch)
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskTypeSend, Handler: mailer.HandleSendNotification},
			{Type: jobs.TaskTypeExpireQuotations, Handler: jobs.HandleExpireQuotations(quotationService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.ExpirySweepInterval.String(), Task: expireTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
