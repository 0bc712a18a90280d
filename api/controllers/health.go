package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/safetransit/api/responses"
	"github.com/angelmondragon/safetransit/pkg/config"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

const readyTimeout = 2 * time.Second

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-SafeTransit-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{
			"status":    "live",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// HealthReady pings each named dependency and fails when any is down.
func HealthReady(cfg *config.Config, deps map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-SafeTransit-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		var failed []string
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				failed = append(failed, name)
				continue
			}
			checks[name] = "ok"
		}
		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
