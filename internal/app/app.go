// Package app builds the shared service graph used by the api and cron-worker
// binaries.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/safetransit/api/controllers"
	"github.com/angelmondragon/safetransit/api/routes"
	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/internal/cron"
	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/internal/notifications"
	"github.com/angelmondragon/safetransit/internal/payments"
	stripewebhook "github.com/angelmondragon/safetransit/internal/webhooks/stripe"
	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/db"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/metrics"
	"github.com/angelmondragon/safetransit/pkg/migrate"
	"github.com/angelmondragon/safetransit/pkg/redis"
	"github.com/angelmondragon/safetransit/pkg/stripe"
)

// App holds every long-lived dependency of a running process.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	DB    *db.Client
	Redis *redis.Client

	Store        deposits.Store
	Audit        audit.Service
	Deposits     deposits.Service
	Dispatcher   *notifications.Dispatcher
	Orchestrator *payments.Orchestrator
	Expirer      *cron.Expirer
	Scheduler    *cron.Service

	StripeClient       *stripe.Client
	StripeWebhook      *stripewebhook.Service
	StripeWebhookGuard *stripewebhook.IdempotencyGuard

	registry    *prometheus.Registry
	httpMetrics *metrics.HTTPMetrics
	localStore  *redis.MemoryStore
}

// Build connects to the database (and Redis when configured) and wires the
// deposit, payment, notification and scheduler services.
func Build(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	a.DB = dbClient

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("run dev migrations: %w", err)
	}

	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		a.Redis = redisClient
	} else {
		logg.Warn(ctx, "redis not configured; using in-process idempotency, rate limit and scheduler lock")
		a.localStore = redis.NewMemoryStore()
	}

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, logg := a.Config, a.Logger
	depositMetrics := metrics.NewDepositMetrics(a.registry)
	schedulerMetrics := metrics.NewSchedulerMetrics(a.registry)
	a.httpMetrics = metrics.NewHTTPMetrics(a.registry)

	a.Store = deposits.NewGormStore(a.DB.DB())
	locker := deposits.NewLocker()

	auditSvc, err := audit.NewService(audit.NewRepository(a.DB.DB()))
	if err != nil {
		return fmt.Errorf("create audit service: %w", err)
	}
	a.Audit = auditSvc

	transport, err := notifications.NewTransport(*cfg, logg)
	if err != nil {
		return fmt.Errorf("create notification transport: %w", err)
	}
	a.Dispatcher, err = notifications.NewDispatcher(notifications.DispatcherParams{
		Repo:        notifications.NewRepository(a.DB.DB()),
		Audit:       auditSvc,
		Transport:   transport,
		Logger:      logg,
		Metrics:     depositMetrics,
		PacingDelay: cfg.Notifications.PacingDelay,
	})
	if err != nil {
		return fmt.Errorf("create notification dispatcher: %w", err)
	}

	gateway, err := a.gateway(ctx)
	if err != nil {
		return err
	}
	a.Orchestrator, err = payments.NewOrchestrator(payments.OrchestratorParams{
		Store:    a.Store,
		Locker:   locker,
		Gateway:  payments.NewGuardedGateway(gateway, cfg.Payments, logg, depositMetrics),
		Audit:    auditSvc,
		Notifier: a.Dispatcher,
		Metrics:  depositMetrics,
		Logger:   logg,
		Currency: cfg.Stripe.Currency,
	})
	if err != nil {
		return fmt.Errorf("create payment orchestrator: %w", err)
	}

	a.Expirer, err = cron.NewExpirer(cron.ExpirerParams{
		Store:    a.Store,
		Locker:   locker,
		Refunder: a.Orchestrator,
		Audit:    auditSvc,
		Notifier: a.Dispatcher,
		Metrics:  depositMetrics,
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("create expirer: %w", err)
	}

	a.Deposits, err = deposits.NewService(deposits.ServiceParams{
		Store:    a.Store,
		Locker:   locker,
		Audit:    auditSvc,
		Expirer:  a.Expirer,
		Notifier: a.Dispatcher,
		Metrics:  depositMetrics,
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("create deposit service: %w", err)
	}

	if a.StripeClient != nil {
		a.StripeWebhook, err = stripewebhook.NewService(stripewebhook.ServiceParams{Handler: a.Orchestrator, Logger: logg})
		if err != nil {
			return fmt.Errorf("create stripe webhook service: %w", err)
		}
		guard, err := stripewebhook.NewIdempotencyGuard(a.idempotencyStore(), cfg.Webhooks.IdempotencyTTL, "stripe-webhook")
		if err != nil {
			return fmt.Errorf("create stripe webhook guard: %w", err)
		}
		a.StripeWebhookGuard = guard.WithProcessingTTL(cfg.Webhooks.ProcessingTTL)
	}

	return a.scheduler(schedulerMetrics)
}

func (a *App) gateway(ctx context.Context) (payments.Gateway, error) {
	if !strings.EqualFold(strings.TrimSpace(a.Config.Payments.Gateway), config.PaymentGatewayStripe) {
		a.Logger.Info(ctx, "using local payment gateway")
		return payments.NewLocalGateway(), nil
	}
	client, err := stripe.NewClient(ctx, a.Config.Stripe, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("create stripe client: %w", err)
	}
	a.StripeClient = client
	gateway, err := payments.NewStripeGateway(client)
	if err != nil {
		return nil, fmt.Errorf("create stripe gateway: %w", err)
	}
	return gateway, nil
}

func (a *App) scheduler(schedulerMetrics *metrics.SchedulerMetrics) error {
	cfg, logg := a.Config, a.Logger

	expiredJob, err := cron.NewExpiredDepositsJob(cron.ExpiredDepositsJobParams{
		Logger:  logg,
		Store:   a.Store,
		Expirer: a.Expirer,
	})
	if err != nil {
		return fmt.Errorf("create expired deposits job: %w", err)
	}
	expiringSoonJob, err := cron.NewExpiringSoonJob(cron.ExpiringSoonJobParams{
		Logger:      logg,
		Store:       a.Store,
		Sender:      a.Dispatcher,
		Window:      cfg.Scheduler.ExpiringSoonWindow,
		Suppression: cfg.Scheduler.SuppressionWindow,
	})
	if err != nil {
		return fmt.Errorf("create expiring soon job: %w", err)
	}
	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:    logg,
		Archiver:  a.Dispatcher,
		Retention: cfg.Notifications.Retention,
	})
	if err != nil {
		return fmt.Errorf("create notification cleanup job: %w", err)
	}

	registry := cron.NewRegistry()
	if err := cron.RegisterDefaults(registry, cfg.Scheduler, expiredJob, expiringSoonJob, cleanupJob); err != nil {
		return fmt.Errorf("register scheduler tasks: %w", err)
	}

	var lock cron.Lock = cron.NewLocalLock()
	if a.Redis != nil {
		redisLock, err := cron.NewRedisLock(a.Redis, cfg.Scheduler.LockTTL)
		if err != nil {
			return fmt.Errorf("create scheduler lock: %w", err)
		}
		lock = redisLock
	}

	a.Scheduler, err = cron.NewService(cron.ServiceParams{
		Logger:       logg,
		Registry:     registry,
		Lock:         lock,
		Metrics:      schedulerMetrics,
		Expired:      expiredJob,
		ExpiringSoon: expiringSoonJob,
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	return nil
}

// Router returns the HTTP handler serving the public, admin and scheduler APIs.
func (a *App) Router() http.Handler {
	readiness := map[string]controllers.Pinger{"database": a.DB}
	if a.Redis != nil {
		readiness["redis"] = a.Redis
	}
	return routes.NewRouter(a.Config, a.Logger, routes.Infra{
		Readiness:          readiness,
		RateLimiter:        a.rateLimiter(),
		IdempotencyStore:   a.idempotencyStore(),
		Metrics:            a.MetricsHandler(),
		HTTPMetrics:        a.httpMetrics,
		StripeClient:       a.StripeClient,
		StripeWebhook:      a.StripeWebhook,
		StripeWebhookGuard: a.StripeWebhookGuard,
	}, routes.Services{
		Deposits:      a.Deposits,
		Audit:         a.Audit,
		Payments:      a.Orchestrator,
		Notifications: a.Dispatcher,
		Scheduler:     a.Scheduler,
	})
}

// MetricsHandler exposes the process registry in the Prometheus text format.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

func (a *App) idempotencyStore() redis.IdempotencyStore {
	if a.Redis != nil {
		return a.Redis
	}
	return a.localStore
}

func (a *App) rateLimiter() redis.RateLimiter {
	if a.Redis != nil {
		return a.Redis
	}
	return a.localStore
}

// Close stops the scheduler and releases connections.
func (a *App) Close() error {
	var errs error
	if a.Scheduler != nil {
		errs = multierr.Append(errs, a.Scheduler.Stop())
	}
	if a.Redis != nil {
		errs = multierr.Append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = multierr.Append(errs, a.DB.Close())
	}
	return errs
}
