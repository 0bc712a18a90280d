package routes

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/safetransit/api/controllers"
	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/internal/cron"
	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/internal/notifications"
	"github.com/angelmondragon/safetransit/internal/payments"
	pkgauth "github.com/angelmondragon/safetransit/pkg/auth"
	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/redis"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubScheduler struct{}

func (stubScheduler) Status() cron.Status                               { return cron.Status{} }
func (stubScheduler) Start(context.Context) error                       { return nil }
func (stubScheduler) Stop() error                                       { return nil }
func (stubScheduler) RunOnce(context.Context) ([]cron.JobResult, error) { return nil, nil }
func (stubScheduler) AddTaskOfType(name, expr, taskType string) error   { return nil }
func (stubScheduler) RemoveTask(name string) error                      { return nil }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "safetransit", ExpirationMinutes: 10},
		HTTP: config.HTTPConfig{
			AllowedOrigins:  []string{"http://localhost:5173"},
			RateLimitWindow: time.Minute,
			RateLimitMax:    100,
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, readiness map[string]controllers.Pinger) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	store := deposits.NewMemoryStore()
	locker := deposits.NewLocker()
	auditSvc, err := audit.NewService(audit.NewMemoryRepository())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Repo:   notifications.NewMemoryRepository(),
		Audit:  auditSvc,
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	orch, err := payments.NewOrchestrator(payments.OrchestratorParams{
		Store:   store,
		Locker:  locker,
		Gateway: payments.NewLocalGateway(),
		Audit:   auditSvc,
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	depositSvc, err := deposits.NewService(deposits.ServiceParams{Store: store, Locker: locker, Audit: auditSvc})
	if err != nil {
		t.Fatalf("deposits: %v", err)
	}
	memory := redis.NewMemoryStore()
	return NewRouter(cfg, logg, Infra{
		Readiness:        readiness,
		RateLimiter:      memory,
		IdempotencyStore: memory,
	}, Services{
		Deposits:      depositSvc,
		Audit:         auditSvc,
		Payments:      orch,
		Notifications: dispatcher,
		Scheduler:     stubScheduler{},
	})
}

func adminToken(t *testing.T, cfg *config.Config, role string) string {
	t.Helper()
	token, err := pkgauth.IssueOperatorToken(cfg.JWT, time.Now(), pkgauth.Operator{ID: "ops-1", Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func do(router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.5:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthRoutes(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg, map[string]controllers.Pinger{"db": stubPinger{}})

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		resp := do(router, http.MethodGet, path, "", "")
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
		if got := resp.Header().Get("X-SafeTransit-Env"); got != "test" {
			t.Fatalf("%s: unexpected env header %q", path, got)
		}
	}

	failing := newTestRouter(t, cfg, map[string]controllers.Pinger{"db": stubPinger{err: errors.New("down")}})
	if resp := do(failing, http.MethodGet, "/health/ready", "", ""); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when a dependency is down, got %d", resp.Code)
	}
}

func TestPublicDepositRoutes(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg, nil)

	body := `{"amount":"10.50","requirement":"return keys","time_limit":"` +
		time.Now().Add(time.Hour).UTC().Format(time.RFC3339) +
		`","creator_id":"a","receiver_id":"b"}`
	resp := do(router, http.MethodPost, "/api/deposit", body, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", resp.Code, resp.Body.String())
	}
	if resp := do(router, http.MethodGet, "/api/deposit", "", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected list 200 got %d", resp.Code)
	}
	if resp := do(router, http.MethodGet, "/api/deposit/not-a-uuid", "", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg, nil)

	for _, path := range []string{"/api/admin/stats", "/api/admin/audit-logs", "/api/scheduler/status"} {
		if resp := do(router, http.MethodGet, path, "", ""); resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", path, resp.Code)
		}
		if resp := do(router, http.MethodGet, path, "", adminToken(t, cfg, "viewer")); resp.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403 for non-admin, got %d", path, resp.Code)
		}
		if resp := do(router, http.MethodGet, path, "", adminToken(t, cfg, pkgauth.RoleAdmin)); resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 for admin, got %d (%s)", path, resp.Code, resp.Body.String())
		}
	}
}

func TestStripeWebhookNotMountedOnLocalProfile(t *testing.T) {
	router := newTestRouter(t, testConfig(), nil)
	resp := do(router, http.MethodPost, "/api/webhooks/stripe", "{}", "")
	if resp.Code != http.StatusNotFound && resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected webhook route to be absent, got %d", resp.Code)
	}
}

func TestAPIRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RateLimitMax = 2
	router := newTestRouter(t, cfg, nil)

	for i := 0; i < 2; i++ {
		if resp := do(router, http.MethodGet, "/api/deposit", "", ""); resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, resp.Code)
		}
	}
	if resp := do(router, http.MethodGet, "/api/deposit", "", ""); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.Code)
	}
	if resp := do(router, http.MethodGet, "/health", "", ""); resp.Code != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", resp.Code)
	}
}
