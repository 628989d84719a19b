package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	webhookcontrollers "github.com/locad/locad-payments/api/controllers/webhooks"
	"github.com/locad/locad-payments/api/routes"
	"github.com/locad/locad-payments/internal/ledger"
	"github.com/locad/locad-payments/internal/payments"
	stripewebhook "github.com/locad/locad-payments/internal/webhooks/stripe"
	"github.com/locad/locad-payments/pkg/config"
	"github.com/locad/locad-payments/pkg/db"
	"github.com/locad/locad-payments/pkg/logger"
	"github.com/locad/locad-payments/pkg/metrics"
	"github.com/locad/locad-payments/pkg/migrate"
	"github.com/locad/locad-payments/pkg/outbox"
	"github.com/locad/locad-payments/pkg/redis"
	pkgstripe "github.com/locad/locad-payments/pkg/stripe"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 120 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, redisClient.Close())
		}()
	} else {
		logg.Warn(ctx, "redis not configured; idempotency keys, rate limits and webhook dedupe disabled")
	}

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	repo := ledger.NewRepository(dbClient.DB())

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Repo:              repo,
		Gateway:           stripeClient,
		TransactionRunner: dbClient,
		Stripe:            cfg.Stripe,
		Metrics:           paymentMetrics,
		Logger:            logg,
	})
	if err != nil {
		return err
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Repo:              repo,
		Outbox:            outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		TransactionRunner: dbClient,
		Metrics:           paymentMetrics,
		Logger:            logg,
	})
	if err != nil {
		return err
	}

	var guard webhookcontrollers.EventGuard
	if redisClient != nil {
		g, err := stripewebhook.NewEventGuard(redisClient, cfg.Eventing.WebhookDedupeTTL)
		if err != nil {
			return err
		}
		guard = g
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Payments:       paymentsService,
			StripeSecrets:  stripeClient,
			WebhookService: webhookService,
			WebhookGuard:   guard,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.App.RequestTimeout,
		WriteTimeout:      cfg.App.RequestTimeout + 5*time.Second,
		IdleTimeout:       idleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}
