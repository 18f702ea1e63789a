package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/referral-commerce/internal/api"
	"github.com/ayo6706/referral-commerce/internal/api/handler"
	"github.com/ayo6706/referral-commerce/internal/api/middleware"
	"github.com/ayo6706/referral-commerce/internal/config"
	"github.com/ayo6706/referral-commerce/internal/db"
	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/idempotency"
	"github.com/ayo6706/referral-commerce/internal/notify"
	"github.com/ayo6706/referral-commerce/internal/observability"
	"github.com/ayo6706/referral-commerce/internal/repository"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/ayo6706/referral-commerce/internal/worker"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewStore(pool, cfg.StoreTimeout)
	notifier := notify.NewLogNotifier()
	codes := domain.NewOrderCodes(cfg.OrderCodePrefix)

	rates := service.NewRateService(store)
	table, err := rates.EnsureSeeded(ctx, cfg.CommissionMaxLevel, cfg.CommissionRates)
	if err != nil {
		return fmt.Errorf("seed commission rates: %w", err)
	}
	logger.Info("commission rates loaded", zap.Int("version", table.Version), zap.Int("max_level", table.MaxLevel))

	graph := service.NewReferralGraph(store)
	ledger := service.NewLedger(store, notifier)
	engine := service.NewCommissionEngine(store, ledger, rates, cfg.CommissionMaxLevel)

	var (
		retry     service.CommissionRetryEnqueuer
		stopRetry = func() {}
	)
	if cfg.CommissionRetryEnabled {
		redisConnOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url for retry queue: %w", err)
		}
		asynqClient := asynq.NewClient(redisConnOpt)
		defer asynqClient.Close()
		inspector := asynq.NewInspector(redisConnOpt)
		defer inspector.Close()
		retry = worker.NewCommissionRetryQueue(asynqClient, inspector, cfg.CommissionRetryMax)

		stopRetry, err = worker.StartCommissionServer(redisConnOpt, worker.NewCommissionWorker(engine))
		if err != nil {
			return err
		}
	}

	members := service.NewMemberService(store, graph, ledger)
	checkout := service.NewCheckoutService(store, codes, cfg.ReservationTTL)
	orders := service.NewOrderService(store, engine, codes, retry, notifier)
	reconciler := service.NewPaymentReconciler(store, engine, codes, retry, notifier)
	webhooks := service.NewWebhookService(reconciler, cfg.WebhookHMACKey, cfg.WebhookSkipSignature)
	withdrawals := service.NewWithdrawalProcessor(store, ledger, engine)
	sweeper := service.NewExpirySweeper(store, cfg.ReservationTTL, cfg.SweepBatchSize)
	integrity := service.NewIntegrityService(store, ledger, notifier)

	sweepScheduler := worker.NewSweepScheduler(sweeper, cfg.SweepSchedule)
	stopSweeps, err := sweepScheduler.Run(ctx)
	if err != nil {
		stopRetry()
		return err
	}
	stopIntegrity := worker.NewIntegrityWorker(integrity).WithInterval(cfg.LedgerAuditInterval).Run(ctx)

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	router := api.NewRouter(cfg, logger, idemStore, api.Handlers{
		Health:      handler.NewHealthHandler(pool, redisClient),
		Auth:        handler.NewAuthHandler(members),
		Webhook:     handler.NewWebhookHandler(webhooks),
		Members:     handler.NewMemberHandler(members, graph),
		Checkout:    handler.NewCheckoutHandler(checkout),
		Orders:      handler.NewOrderHandler(orders),
		Wallets:     handler.NewWalletHandler(ledger),
		Commissions: handler.NewCommissionHandler(engine, rates, cfg.CommissionMaxLevel),
		Withdrawals: handler.NewWithdrawalHandler(withdrawals),
		BankEvents:  handler.NewBankEventHandler(reconciler),
		Maintenance: handler.NewMaintenanceHandler(sweeper, integrity),
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping background workers")
	cancel()
	stopSweeps()
	stopIntegrity()
	stopRetry()

	logger.Info("shutdown complete")
	return runErr
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
