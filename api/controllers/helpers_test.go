package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/internal/notifications"
	"github.com/angelmondragon/safetransit/internal/payments"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type testStack struct {
	store      *deposits.MemoryStore
	auditSvc   audit.Service
	depositSvc deposits.Service
	dispatcher *notifications.Dispatcher
	orch       *payments.Orchestrator
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	store := deposits.NewMemoryStore()
	locker := deposits.NewLocker()
	auditSvc, err := audit.NewService(audit.NewMemoryRepository())
	require.NoError(t, err)
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Repo:  notifications.NewMemoryRepository(),
		Audit: auditSvc,
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)
	orch, err := payments.NewOrchestrator(payments.OrchestratorParams{
		Store:    store,
		Locker:   locker,
		Gateway:  payments.NewLocalGateway(),
		Audit:    auditSvc,
		Notifier: dispatcher,
	})
	require.NoError(t, err)
	depositSvc, err := deposits.NewService(deposits.ServiceParams{
		Store:    store,
		Locker:   locker,
		Audit:    auditSvc,
		Notifier: dispatcher,
	})
	require.NoError(t, err)
	return &testStack{store: store, auditSvc: auditSvc, depositSvc: depositSvc, dispatcher: dispatcher, orch: orch}
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.RouteContext(req.Context())
	if routeCtx == nil {
		routeCtx = chi.NewRouteContext()
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	}
	routeCtx.URLParams.Add(key, value)
	return req
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}
