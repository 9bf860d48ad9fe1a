package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cowd/ecommerce-orders/internal/config"
	"github.com/cowd/ecommerce-orders/internal/order/application"
	"github.com/cowd/ecommerce-orders/internal/order/infrastructure/customerapi"
	orderhttp "github.com/cowd/ecommerce-orders/internal/order/infrastructure/http"
	orderkafka "github.com/cowd/ecommerce-orders/internal/order/infrastructure/kafka"
	"github.com/cowd/ecommerce-orders/internal/order/infrastructure/paymentapi"
	orderpg "github.com/cowd/ecommerce-orders/internal/order/infrastructure/postgres"
	"github.com/cowd/ecommerce-orders/internal/order/infrastructure/productapi"
	"github.com/cowd/ecommerce-orders/migrations"
	"github.com/cowd/ecommerce-orders/pkg/idempotency"
	"github.com/cowd/ecommerce-orders/pkg/logging"
	"github.com/cowd/ecommerce-orders/pkg/outbox"
	"github.com/cowd/ecommerce-orders/pkg/shutdown"
	"github.com/cowd/ecommerce-orders/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("tracing init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	// Redis (in-flight reference lock)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	refLock := idempotency.NewReferenceLock(rdb, cfg.ReferenceLockTTL)

	// Kafka producer + outbox relay
	writer := orderkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	repo := orderpg.NewRepository(log, pool)
	outboxStore := orderpg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.ConfirmationTopic)
	relay := outbox.NewRelay(log, outboxStore, dispatch, "order-service-relay", cfg.OutboxMaxAttempts)

	// Collaborator clients
	customers := customerapi.NewClient(log, cfg.CustomerServiceURL, cfg.ClientTimeout)
	stock := productapi.NewClient(log, cfg.ProductServiceURL, cfg.ClientTimeout)
	payments := paymentapi.NewClient(log, cfg.PaymentServiceURL, cfg.ClientTimeout)

	svc := application.NewService(log, repo, customers, stock, payments, refLock, application.Config{
		PaymentMaxAttempts: cfg.PaymentMaxAttempts,
		PaymentBackoff:     cfg.PaymentBackoff,
	})
	sweeper := application.NewSweeper(log, repo, stock, cfg.SweepInterval, cfg.StuckAfter)
	handler := orderhttp.NewHandler(log, svc)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Error("sweeper stopped with error", "err", err)
		}
	}()
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("order-service shutdown complete")
}
