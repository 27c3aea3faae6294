package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	"domainpay/internal/domains"
	"domainpay/internal/fulfillment"
	fulfillmentmetrics "domainpay/internal/fulfillment/metrics"
	orderstore "domainpay/internal/order/store"
	"domainpay/internal/payment/gateway"
	paymenthandler "domainpay/internal/payment/handler"
	paymentmetrics "domainpay/internal/payment/metrics"
	"domainpay/internal/payment/poller"
	paymentservice "domainpay/internal/payment/service"
	paymentstore "domainpay/internal/payment/store"
	"domainpay/internal/platform/config"
	"domainpay/internal/platform/httpserver"
	"domainpay/internal/platform/logger"
	platformredis "domainpay/internal/platform/redis"
	"domainpay/internal/registry"
	"domainpay/internal/token"
	httptransport "domainpay/internal/transport/http"
	"domainpay/migrations"
	"domainpay/pkg/audit"
	auditpg "domainpay/pkg/audit/store/postgres"
	auditworker "domainpay/pkg/audit/worker"
)

// main wires dependencies and owns process lifecycle. Business rules live in
// the internal services; nothing here decides anything about payments or
// domains.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Audit trail: transactional outbox drained to Kafka by a background
	// worker.
	auditStore := auditpg.New(db)
	auditor := audit.NewRecorder(auditStore, log)

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Kafka.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return err
	}
	defer producer.Close()

	outboxWorker := auditworker.New(db, auditStore, producer, cfg.Kafka.Topic, time.Second, log)
	if err := outboxWorker.EnsureTopic(ctx, 3, 1); err != nil {
		log.Warn("audit topic setup failed, continuing", "error", err)
	}
	go func() {
		if err := outboxWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	// Domain services.
	orders := orderstore.NewPostgres(db)
	transactions := paymentstore.NewPostgres(db)
	domainRecords := domains.NewPostgres(db)

	registryClient := registry.NewClient(registry.Config{
		BaseURL:    cfg.Registry.BaseURL,
		ResellerID: cfg.Registry.ResellerID,
		APIKey:     cfg.Registry.APIKey,
		Timeout:    cfg.Registry.Timeout,
	})

	fulfillmentSvc := fulfillment.NewService(
		orders, domainRecords, registryClient, auditor,
		fulfillmentmetrics.New(), log, db,
	)

	payMetrics := paymentmetrics.New()
	paymentSvc := paymentservice.NewService(
		transactions, orders, fulfillmentSvc, auditor, payMetrics, log,
	)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:      cfg.Gateway.BaseURL,
		MerchantCode: cfg.Gateway.MerchantCode,
		APIKey:       cfg.Gateway.APIKey,
		Timeout:      cfg.Gateway.Timeout,
	})

	var claims poller.Claims = poller.NoopClaims{}
	if redisClient != nil {
		claims = poller.NewRedisClaims(redisClient.Client, cfg.Poller.Interval*3/4, log)
	}
	statusPoller := poller.New(transactions, gatewayClient, paymentSvc, claims, payMetrics, log, poller.Config{
		Interval:    cfg.Poller.Interval,
		BatchLimit:  cfg.Poller.BatchLimit,
		Concurrency: cfg.Poller.Concurrency,
	})
	go statusPoller.Run(ctx)

	// HTTP surface.
	router := httptransport.NewRouter(httptransport.Deps{
		Payments: paymenthandler.NewHandler(
			paymentSvc, auditor, cfg.Gateway.MerchantCode, cfg.Gateway.APIKey, log,
		),
		Fulfillment: fulfillment.NewHandler(fulfillmentSvc, log),
		Auth:        token.NewValidator(cfg.Server.JWTSigningKey),
		DB:          db,
		Redis:       redisUnwrap(redisClient),
		Logger:      log,
	})

	srv := httpserver.New(cfg.Server.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func redisUnwrap(c *platformredis.Client) *goredis.Client {
	if c == nil {
		return nil
	}
	return c.Client
}
