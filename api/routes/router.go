package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/safetransit/api/controllers"
	webhookcontrollers "github.com/angelmondragon/safetransit/api/controllers/webhooks"
	"github.com/angelmondragon/safetransit/api/middleware"
	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/internal/deposits"
	stripewebhook "github.com/angelmondragon/safetransit/internal/webhooks/stripe"
	pkgauth "github.com/angelmondragon/safetransit/pkg/auth"
	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/metrics"
	"github.com/angelmondragon/safetransit/pkg/redis"
	"github.com/angelmondragon/safetransit/pkg/stripe"
)

// Services groups the domain services exposed over HTTP.
type Services struct {
	Deposits      deposits.Service
	Audit         audit.Service
	Payments      controllers.PaymentService
	Notifications controllers.NotificationService
	Scheduler     controllers.SchedulerService
}

// Infra groups the shared clients the router depends on. Stripe fields are
// nil when the local payment profile is active.
type Infra struct {
	Readiness          map[string]controllers.Pinger
	RateLimiter        redis.RateLimiter
	IdempotencyStore   redis.IdempotencyStore
	Metrics            http.Handler
	HTTPMetrics        *metrics.HTTPMetrics
	StripeClient       *stripe.Client
	StripeWebhook      *stripewebhook.Service
	StripeWebhookGuard *stripewebhook.IdempotencyGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, infra Infra, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, infra.HTTPMetrics),
		middleware.CORS(cfg.HTTP.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", controllers.HealthLive(cfg))
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, infra.Readiness, logg))
	})
	if infra.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", infra.Metrics)
	}

	apiPolicy := middleware.NewRateLimitPolicy("api", cfg.HTTP.RateLimitWindow, cfg.HTTP.RateLimitMax)

	r.Route("/api", func(r chi.Router) {
		if infra.StripeClient != nil && infra.StripeWebhook != nil {
			r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(infra.StripeWebhook, infra.StripeClient, infra.StripeWebhookGuard, logg))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(apiPolicy, infra.RateLimiter, logg))
			r.Use(middleware.Idempotency(infra.IdempotencyStore, logg))

			r.Route("/deposit", func(r chi.Router) {
				r.Post("/", controllers.DepositCreate(svc.Deposits, logg))
				r.Get("/", controllers.DepositList(svc.Deposits, logg))
				r.Get("/{id}", controllers.DepositGet(svc.Deposits, logg))
				r.Put("/{id}/fulfill", controllers.DepositFulfil(svc.Deposits, logg))
				r.Put("/{id}/preferences", controllers.DepositPreferences(svc.Deposits, logg))
				r.Put("/{id}/emails", controllers.DepositEmails(svc.Deposits, logg))
				r.Get("/{id}/notifications", controllers.DepositNotifications(svc.Notifications, logg))
			})

			r.Route("/payment", func(r chi.Router) {
				r.Post("/create-payment", controllers.PaymentCreate(svc.Payments, logg))
				r.Post("/capture-payment", controllers.PaymentCapture(svc.Payments, logg))
				r.Post("/release-payment", controllers.PaymentRelease(svc.Payments, logg))
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(cfg.JWT, logg))
				r.Use(middleware.RequireRole(logg, pkgauth.RoleAdmin))

				r.Route("/admin", func(r chi.Router) {
					r.Get("/deposits", controllers.AdminDeposits(svc.Deposits, logg))
					r.Put("/deposits/{id}/override", controllers.AdminOverride(svc.Deposits, logg))
					r.Post("/deposits/{id}/restitute", controllers.AdminRestitute(svc.Payments, logg))
					r.Post("/deposits/{id}/capture", controllers.AdminPaymentCapture(svc.Payments, logg))
					r.Post("/deposits/{id}/cancel-hold", controllers.AdminPaymentCancelHold(svc.Payments, logg))
					r.Post("/deposits/{id}/refund", controllers.AdminPaymentRefund(svc.Payments, logg))
					r.Get("/audit-logs", controllers.AdminAuditLogs(svc.Audit, logg))
					r.Get("/stats", controllers.AdminStats(svc.Deposits, logg))
				})

				r.Route("/scheduler", func(r chi.Router) {
					r.Get("/status", controllers.SchedulerStatus(svc.Scheduler, logg))
					r.Post("/start", controllers.SchedulerStart(svc.Scheduler, logg))
					r.Post("/stop", controllers.SchedulerStop(svc.Scheduler, logg))
					r.Post("/check-expired", controllers.SchedulerCheckExpired(svc.Scheduler, logg))
					r.Get("/notifications", controllers.NotificationList(svc.Notifications, logg))
					r.Post("/test-notification", controllers.NotificationTest(svc.Deposits, svc.Notifications, logg))
					r.Post("/tasks", controllers.SchedulerAddTask(svc.Scheduler, logg))
					r.Delete("/tasks/{name}", controllers.SchedulerRemoveTask(svc.Scheduler, logg))
				})
			})
		})
	})

	return r
}
