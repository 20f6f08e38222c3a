package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/course-payments/internal/notification/application"
	notificationkafka "github.com/dmehra2102/course-payments/internal/notification/infrastructure/kafka"
	notificationpg "github.com/dmehra2102/course-payments/internal/notification/infrastructure/postgres"
	"github.com/dmehra2102/course-payments/pkg/config"
	"github.com/dmehra2102/course-payments/pkg/idempotency"
	"github.com/dmehra2102/course-payments/pkg/logging"
	"github.com/dmehra2102/course-payments/pkg/shutdown"
	"github.com/dmehra2102/course-payments/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel).With("service", "notification-service")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "notification-service", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := notificationpg.Migrate(ctx, pool); err != nil {
		log.Error("schema migration failed", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, 24*time.Hour)

	svc := application.NewService(log, notificationpg.NewRepository(log, pool))
	consumer := notificationkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.OutboxTopic, cfg.NotificationGroup, svc, idem)

	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	_ = shutdown.Drain(log, 5*time.Second, tp.Shutdown)
	log.Info("notification-service shutdown complete")
}
