package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/course-payments/internal/payment/application"
	"github.com/dmehra2102/course-payments/internal/payment/gateway"
	paymentgrpc "github.com/dmehra2102/course-payments/internal/payment/infrastructure/grpc"
	paymenthttp "github.com/dmehra2102/course-payments/internal/payment/infrastructure/http"
	paymentkafka "github.com/dmehra2102/course-payments/internal/payment/infrastructure/kafka"
	"github.com/dmehra2102/course-payments/internal/payment/infrastructure/mercadopago"
	pg "github.com/dmehra2102/course-payments/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/course-payments/internal/payment/signature"
	"github.com/dmehra2102/course-payments/pkg/config"
	"github.com/dmehra2102/course-payments/pkg/logging"
	"github.com/dmehra2102/course-payments/pkg/metrics"
	"github.com/dmehra2102/course-payments/pkg/outbox"
	"github.com/dmehra2102/course-payments/pkg/shutdown"
	"github.com/dmehra2102/course-payments/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel).With("service", "payment-webhook")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "payment-webhook", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}

	// Postgres Setup
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		log.Error("schema migration failed", "err", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(log, cfg)
	if err != nil {
		log.Error("webhook gateways misconfigured", "err", err)
		os.Exit(1)
	}

	repo := pg.NewRepository(log, pool)
	reconciler := application.NewReconciler(log, repo, cfg.ReviewThreshold)
	mp := gateway.NewMercadoPago()
	reconciler.RegisterGateway(mp.Name(), mp, mercadopago.NewClient(cfg.MercadoPago.APIBase, cfg.MercadoPago.AccessToken))
	if cfg.MercadoPago.AccessToken == "" {
		log.Error("MP_ACCESS_TOKEN not set, mercadopago payment status cannot be read back and notifications will be refused")
	}
	st := gateway.NewStripe()
	reconciler.RegisterGateway(st.Name(), st, nil)
	checkout := application.NewCheckoutService(repo, registry.Names()...)

	// Outbox relay
	writer := paymentkafka.NewWriter(cfg.KafkaBrokers)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, pg.NewOutboxStore(log, pool), dispatch, relayID())
	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	health := paymentgrpc.NewHealth(log, pool)
	go health.Run(ctx)
	gs, err := paymentgrpc.Run(cfg.GRPCAddr, health)
	if err != nil {
		log.Error("grpc listen failed", "err", err)
		os.Exit(1)
	}

	handler := paymenthttp.NewHandler(log, registry, reconciler, checkout, metrics.New(), pool)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "gateways", registry.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	_ = shutdown.Drain(log, 10*time.Second,
		srv.Shutdown,
		func(context.Context) error { gs.GracefulStop(); return nil },
		func(context.Context) error { return writer.Close() },
		tp.Shutdown,
	)
	log.Info("payment-webhook shutdown complete")
}

func buildRegistry(log *slog.Logger, cfg config.Config) (*gateway.Registry, error) {
	mpFormat, err := signature.ParseFormat(cfg.MercadoPago.SignatureFormat)
	if err != nil {
		return nil, err
	}
	mpVerifier, err := signature.NewVerifier(log, gateway.MercadoPagoName, signature.Config{
		Secret:           []byte(cfg.MercadoPago.WebhookSecret),
		Format:           mpFormat,
		Environment:      cfg.Env,
		SkipVerification: cfg.Webhook.SkipSignature,
		MaxSkew:          cfg.Webhook.MaxSkew,
	})
	if err != nil {
		return nil, err
	}
	stripeVerifier, err := signature.NewVerifier(log, gateway.StripeName, signature.Config{
		Secret:           []byte(cfg.Stripe.WebhookSecret),
		Format:           signature.FormatTimestampDotBody,
		Environment:      cfg.Env,
		SkipVerification: cfg.Webhook.SkipSignature,
		MaxSkew:          cfg.Webhook.MaxSkew,
	})
	if err != nil {
		return nil, err
	}

	reg := gateway.NewRegistry()
	reg.Register(gateway.NewMercadoPago(), mpVerifier)
	reg.Register(gateway.NewStripe(), stripeVerifier)
	return reg, nil
}

func relayID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("payment-webhook-%s-%d", host, os.Getpid())
}
