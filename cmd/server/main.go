package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"meldeboks/internal/attachment"
	"meldeboks/internal/cleanup"
	"meldeboks/internal/correspondence"
	"meldeboks/internal/correspondence/service"
	"meldeboks/internal/dialog"
	"meldeboks/internal/eventbus"
	"meldeboks/internal/idempotency"
	"meldeboks/internal/jobs"
	"meldeboks/internal/migration"
	"meldeboks/internal/notification"
	"meldeboks/internal/platform/alert"
	"meldeboks/internal/platform/config"
	"meldeboks/internal/platform/httpserver"
	"meldeboks/internal/platform/logger"
	"meldeboks/internal/platform/postgres"
	"meldeboks/internal/platform/redis"
	"meldeboks/internal/purge"
	"meldeboks/internal/register"
	"meldeboks/internal/scanner"
	"meldeboks/internal/syncengine"
	httptransport "meldeboks/internal/transport/http"
	"meldeboks/pkg/platform/tx"
)

const idempotencyTTL = 24 * time.Hour

// main wires high-level dependencies, exposes the HTTP router, and runs the
// job queue and outbox worker alongside the server. Business logic lives in
// the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("open postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	corrStore := correspondence.NewPostgresStore(db)
	attachStore := attachment.NewPostgresStore(db)

	var guard idempotency.Guard = idempotency.NewPostgresGuard(db)
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		guard = idempotency.NewRedisGuard(redisClient.Client, idempotencyTTL)
	}

	var notifier alert.Notifier = alert.Noop{}
	if cfg.OpsWebhookURL != "" {
		notifier = alert.NewWebhook(cfg.OpsWebhookURL, log)
	}

	registry := jobs.NewRegistry()
	queue := jobs.NewPostgresQueue(db, registry, log, notifier, cfg.JobMaxAttempts)

	// Events are written through the outbox; the worker forwards them to
	// Kafka out of band.
	outbox := eventbus.NewOutboxBus(db)
	kafka, err := eventbus.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		log.Error("connect kafka", "error", err)
		os.Exit(1)
	}
	defer kafka.Close()
	outboxWorker := eventbus.NewOutboxWorker(db, kafka, log)

	amqpPub, err := notification.NewAMQPPublisher(cfg.AMQPURL, cfg.NotificationExchange)
	if err != nil {
		log.Error("connect amqp", "error", err)
		os.Exit(1)
	}
	defer amqpPub.Close()

	var dialogSvc dialog.Service = dialog.LoggingStub{Log: log}
	reg := register.NewStatic()

	txRunner := tx.NewSQLRunner(db)
	purger := purge.NewOrchestrator(corrStore, attachStore, queue, guard, txRunner, log)
	svc := service.New(corrStore, reg, queue, txRunner, log)
	syncer := syncengine.NewSyncer(corrStore, reg, queue, purger, txRunner, log)

	scan := scanner.New(corrStore, cfg.ScanWindowSize, log)
	sweeper := cleanup.NewSweeper(corrStore, attachStore, scan, dialogSvc, purger, queue, log)

	availability := migration.NewAvailability(corrStore, queue, log)
	batcher := migration.NewBatcher(migration.NewPostgresSource(db), availability.MakeAvailable,
		queue, queue, guard, log).WithLimit(cfg.MigrationBatchLimit)

	registry.RegisterAll(attachment.Handlers(attachment.LoggingStorage{Log: log}))
	registry.RegisterAll(dialog.Handlers(dialogSvc))
	registry.RegisterAll(eventbus.Handlers(outbox))
	registry.RegisterAll(notification.Handlers(amqpPub))
	registry.RegisterAll(cleanup.Handlers(sweeper))
	registry.RegisterAll(migration.Handlers(batcher))
	registry.RegisterAll(syncengine.Handlers(syncer))

	handler := httptransport.NewHandler(svc, purger, queue, batcher, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.JobWorkers; i++ {
		// Claims use FOR UPDATE SKIP LOCKED, so pollers never step on
		// each other.
		g.Go(func() error { return queue.Run(ctx) })
	}
	g.Go(func() error { return outboxWorker.Run(ctx) })
	g.Go(func() error {
		log.Info("starting meldeboks", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}
