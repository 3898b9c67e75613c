package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"z402-facilitator/config"
	z402http "z402-facilitator/internal/adapter/http"
	"z402-facilitator/internal/adapter/ledger"
	pgStorage "z402-facilitator/internal/adapter/storage/postgres"
	redisStorage "z402-facilitator/internal/adapter/storage/redis"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/internal/service"
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

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting z402 facilitator")

	ctx := context.Background()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Repositories
	merchantRepo := pgStorage.NewMerchantRepo(pool)
	intentRepo := pgStorage.NewPaymentIntentRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	deliveryRepo := pgStorage.NewWebhookDeliveryRepo(pool)
	refundRepo := pgStorage.NewRefundRepo(pool)
	auditRepo := pgStorage.NewAuditRepository(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Redis stores
	rateLimiter := redisStorage.NewRateLimitStore(rdb)
	deliveryLock := redisStorage.NewDeliveryLock(rdb)

	// Ledger client
	ledgerClient := ledger.NewZcashdClient(cfg.Ledger.URL, cfg.Ledger.User, cfg.Ledger.Password, cfg.Ledger.Timeout, log)

	// Core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(auditRepo, log)

	var sigSvc ports.Signer
	switch cfg.Signature.Scheme {
	case "ecdsa":
		sigSvc = service.NewECDSASignatureService()
	default:
		sigSvc = service.NewHMACSignatureService()
	}

	tolerance, err := decimal.NewFromString(cfg.Payment.AmountTolerance)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.Payment.AmountTolerance).Msg("Invalid amount tolerance")
	}

	// Domain services
	merchantSvc := service.NewMerchantService(merchantRepo, hashSvc, encSvc, tokenSvc)
	challengeSvc := service.NewChallengeService(
		intentRepo, merchantRepo, transactor,
		sigSvc, cfg.Signature.ServerKey,
		cfg.Payment.Currency, cfg.Payment.IntentExpiry,
		auditSvc, log,
	)
	authorizeSvc := service.NewAuthorizeService(
		intentRepo, txRepo, transactor,
		sigSvc, auditSvc, cfg.Payment.AuthTimestampMaxSkew, log,
	)
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
	refundSvc := service.NewRefundService(txRepo, intentRepo, refundRepo, transactor, webhookSvc, auditSvc, log)

	// Health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	router := z402http.SetupRouter(z402http.RouterDeps{
		Config:         cfg,
		MerchantSvc:    merchantSvc,
		TokenSvc:       tokenSvc,
		ChallengeSvc:   challengeSvc,
		AuthorizeSvc:   authorizeSvc,
		TrackerSvc:     trackerSvc,
		RefundSvc:      refundSvc,
		TxRepo:         txRepo,
		RateLimiter:    rateLimiter,
		WebhookSigner:  webhookSigner,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth, ledgerClient},
		Log:            log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
