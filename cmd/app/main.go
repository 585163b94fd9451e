// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"mpesa-stk-mediator/internal/config"
	"mpesa-stk-mediator/internal/domain/ports/adapter"
	"mpesa-stk-mediator/internal/domain/ports/repository"
	payAdapters "mpesa-stk-mediator/internal/infra/adapters/payment"
	"mpesa-stk-mediator/internal/infra/api"
	"mpesa-stk-mediator/internal/infra/db/boltdb"
	"mpesa-stk-mediator/internal/infra/db/memory"
	pg "mpesa-stk-mediator/internal/infra/db/postgres"
	"mpesa-stk-mediator/internal/infra/events"
	"mpesa-stk-mediator/internal/infra/logging"
	"mpesa-stk-mediator/internal/infra/metrics"
	red "mpesa-stk-mediator/internal/infra/redis"
	"mpesa-stk-mediator/internal/infra/sched"
	"mpesa-stk-mediator/internal/infra/worker"
	"mpesa-stk-mediator/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted phones)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("shutting down")
	}
	logger.Info().Msg("bye")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// ---- Redis (store and/or rate limiting) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		redisClient = c
		closers = append(closers, func() { _ = c.Close() })
	}

	// ---- Store ----
	var store repository.PaymentStore
	switch cfg.Store.Driver {
	case "memory":
		store = memory.NewPaymentStore()
	case "redis":
		store = red.NewPaymentStore(redisClient, cfg.Store.Retention)
	case "postgres":
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := pg.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
		store = pg.NewPaymentStore(pool)
	case "bolt":
		bs, err := boltdb.Open(cfg.Bolt.Path)
		if err != nil {
			return fmt.Errorf("bolt: %w", err)
		}
		closers = append(closers, func() { _ = bs.Close() })
		store = bs
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("payment store ready")

	// ---- Gateway ----
	var (
		tokens  adapter.TokenProvider
		gateway adapter.PaymentGateway
	)
	switch cfg.Mpesa.Gateway {
	case "noop":
		tokens = payAdapters.NoopTokenProvider{}
		gateway = payAdapters.NewNoopPaymentGateway()
		logger.Warn().Msg("mpesa.gateway=noop: no STK prompts will be sent")
	default:
		httpClient := &http.Client{Timeout: cfg.Mpesa.Timeout}
		tokens = payAdapters.NewDarajaTokenProvider(cfg.Mpesa.BaseURL, cfg.Mpesa.ConsumerKey, cfg.Mpesa.ConsumerSecret, httpClient)
		gateway = payAdapters.NewDarajaGateway(cfg.Mpesa.BaseURL, httpClient)
		logger.Info().Str("base_url", cfg.Mpesa.BaseURL).Str("shortcode", cfg.Mpesa.ShortCode).Msg("daraja gateway configured")
	}
	builder := payAdapters.NewDarajaEnvelopeBuilder(payAdapters.MerchantIdentity{
		ShortCode:          cfg.Mpesa.ShortCode,
		PassKey:            cfg.Mpesa.PassKey,
		PartyB:             cfg.Mpesa.PartyB,
		TransactionType:    cfg.Mpesa.TransactionType,
		CallbackURL:        cfg.Mpesa.CallbackURL,
		AccountReference:   cfg.Mpesa.AccountReference,
		DefaultDescription: cfg.Mpesa.DefaultDescription,
	})

	// ---- Events + worker pool ----
	var publisher adapter.PaymentEventPublisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		kp, err := events.NewKafkaPublisher(cfg.Events, logger)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		publisher = kp
	}
	closers = append(closers, func() { _ = publisher.Close() })

	pool := worker.NewPool(cfg.Workers.Count, logger)
	pool.Start(context.Background())
	closers = append(closers, pool.Stop)

	// ---- Use cases ----
	paymentUC := usecase.NewPaymentUseCase(store, tokens, builder, gateway, logger).WithDevMode(cfg.Runtime.Dev)
	if cfg.RateLimit.PerPhone > 0 {
		paymentUC.WithRateLimit(red.NewRateLimiter(redisClient), cfg.RateLimit.PerPhone, cfg.RateLimit.Window)
	}
	callbackUC := usecase.NewCallbackUseCase(store, publisher, pool, logger)

	// ---- Background workers ----
	if cfg.Reconcile.Enabled {
		rec := sched.NewPendingReconciler(store, tokens, builder, gateway, callbackUC,
			cfg.Reconcile.Interval, cfg.Reconcile.StaleAfter, cfg.Reconcile.BatchSize, logger)
		go rec.Start(ctx)
	}
	if ev, ok := store.(repository.Evictor); ok && cfg.Store.Retention > 0 {
		go sched.NewEvictionWorker(ev, cfg.Store.Retention, cfg.Store.EvictionInterval, logger).Start(ctx)
	}

	// ---- HTTP ----
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewServer(paymentUC, callbackUC, cfg.Server, logger).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	return nil
}
