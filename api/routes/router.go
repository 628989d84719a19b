package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/locad/locad-payments/api/controllers"
	paymentcontrollers "github.com/locad/locad-payments/api/controllers/payments"
	webhookcontrollers "github.com/locad/locad-payments/api/controllers/webhooks"
	"github.com/locad/locad-payments/api/middleware"
	paymentsvc "github.com/locad/locad-payments/internal/payments"
	"github.com/locad/locad-payments/pkg/config"
	"github.com/locad/locad-payments/pkg/logger"
	"github.com/locad/locad-payments/pkg/redis"
)

// RouterParams groups the dependencies the HTTP surface is built from.
// Redis and WebhookGuard are optional.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Redis          *redis.Client
	Payments       paymentsvc.Service
	StripeSecrets  webhookcontrollers.SigningSecretProvider
	WebhookService webhookcontrollers.StripeWebhookService
	WebhookGuard   webhookcontrollers.EventGuard
	MetricsHandler http.Handler
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)
	if cfg.App.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.App.RequestTimeout))
	}

	deps := []controllers.Dependency{{Name: "database", Pinger: p.DB}}
	if p.Redis != nil {
		deps = append(deps, controllers.Dependency{Name: "redis", Pinger: p.Redis})
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps...))
	})

	metricsHandler := p.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.WebhookService, p.StripeSecrets, p.WebhookGuard, logg))
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if p.Redis != nil {
			policy := middleware.NewRateLimitPolicy("payments", cfg.RateLimit.PaymentsWindow, cfg.RateLimit.PaymentsLimit)
			r.Use(middleware.RateLimit(policy, p.Redis, logg))
			r.Use(middleware.Idempotency(p.Redis, logg))
		}

		r.Post("/intents", paymentcontrollers.CreatePaymentIntent(p.Payments, logg))
		r.Post("/intents/{paymentIntentId}/process", paymentcontrollers.ProcessPayment(p.Payments, logg))
		r.Post("/methods", paymentcontrollers.CreatePaymentMethod(p.Payments, logg))
		r.Get("/methods", paymentcontrollers.ListPaymentMethods(p.Payments, logg))
		r.Get("/history", paymentcontrollers.PaymentHistory(p.Payments, logg))
	})

	return r
}
