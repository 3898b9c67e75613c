package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"z402-facilitator/config"
	"z402-facilitator/internal/adapter/ledger"
	pgStorage "z402-facilitator/internal/adapter/storage/postgres"
	redisStorage "z402-facilitator/internal/adapter/storage/redis"
	"z402-facilitator/internal/service"
	"z402-facilitator/internal/worker"
	"z402-facilitator/pkg/logger"

	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Msg("Starting z402 worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	merchantRepo := pgStorage.NewMerchantRepo(pool)
	intentRepo := pgStorage.NewPaymentIntentRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	deliveryRepo := pgStorage.NewWebhookDeliveryRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)
	deliveryLock := redisStorage.NewDeliveryLock(rdb)

	ledgerClient := ledger.NewZcashdClient(cfg.Ledger.URL, cfg.Ledger.User, cfg.Ledger.Password, cfg.Ledger.Timeout, log)

	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	auditSvc := service.NewAuditService(auditRepo, log)

	tolerance, err := decimal.NewFromString(cfg.Payment.AmountTolerance)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.Payment.AmountTolerance).Msg("Invalid amount tolerance")
	}

	webhookSigner := service.NewWebhookSigner(cfg.Webhook.Tolerance)
	webhookSvc := service.NewWebhookService(
		deliveryRepo, merchantRepo, encSvc, webhookSigner, deliveryLock, auditSvc,
		&http.Client{Timeout: cfg.Webhook.Timeout},
		service.WebhookConfig{
			MaxAttempts:   cfg.Webhook.MaxAttempts,
			BaseBackoff:   cfg.Webhook.BaseBackoff,
			MaxBackoff:    cfg.Webhook.MaxBackoff,
			ClaimTTL:      cfg.Webhook.ClaimTTL,
			DispatchLimit: cfg.Webhook.DispatchLimit,
		},
		log,
	)
	trackerSvc := service.NewTrackerService(
		txRepo, intentRepo, transactor, ledgerClient, webhookSvc, auditSvc,
		service.TrackerConfig{
			VerifyConfirmations: cfg.Payment.VerifyConfirmations,
			SettleConfirmations: cfg.Payment.SettleConfirmations,
			AmountTolerance:     tolerance,
			SweepBatchSize:      cfg.Worker.BatchSize,
			SweepConcurrency:    cfg.Worker.Concurrency,
		},
		log,
	)

	worker.New(trackerSvc, webhookSvc, cfg.Worker.SweepInterval, log).Run(ctx)

	log.Info().Msg("Worker exited")
}
