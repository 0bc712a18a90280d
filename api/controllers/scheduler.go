package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/safetransit/api/responses"
	"github.com/angelmondragon/safetransit/api/validators"
	"github.com/angelmondragon/safetransit/internal/cron"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

// SchedulerService controls the background sweeps.
type SchedulerService interface {
	Status() cron.Status
	Start(ctx context.Context) error
	Stop() error
	RunOnce(ctx context.Context) ([]cron.JobResult, error)
	AddTaskOfType(name, expr, taskType string) error
	RemoveTask(name string) error
}

type addTaskRequest struct {
	Name           string `json:"name" validate:"notblank"`
	CronExpression string `json:"cron_expression" validate:"notblank"`
	TaskType       string `json:"task_type"`
}

// SchedulerStatus reports whether the scheduler is running and its tasks.
func SchedulerStatus(svc SchedulerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scheduler unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.Status())
	}
}

// SchedulerStart starts the scheduler loop.
func SchedulerStart(svc SchedulerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scheduler unavailable"))
			return
		}
		if err := svc.Start(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "start scheduler"))
			return
		}
		responses.WriteSuccess(w, svc.Status())
	}
}

// SchedulerStop stops the scheduler loop after any in-flight sweep finishes.
func SchedulerStop(svc SchedulerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scheduler unavailable"))
			return
		}
		if err := svc.Stop(); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stop scheduler"))
			return
		}
		responses.WriteSuccess(w, svc.Status())
	}
}

// SchedulerCheckExpired runs both sweeps synchronously. Job failures are
// reported per job rather than as a request error.
func SchedulerCheckExpired(svc SchedulerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scheduler unavailable"))
			return
		}
		results, err := svc.RunOnce(r.Context())
		if err != nil && logg != nil {
			logg.Warn(r.Context(), "manual sweep finished with errors: "+err.Error())
		}
		responses.WriteSuccess(w, map[string]any{
			"message": "expiry check completed",
			"jobs":    results,
		})
	}
}

// SchedulerAddTask registers a cron task running one of the built-in sweeps.
func SchedulerAddTask(svc SchedulerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scheduler unavailable"))
			return
		}
		var req addTaskRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		taskType := strings.TrimSpace(req.TaskType)
		if taskType == "" {
			taskType = cron.TaskTypeCheckExpired
		}
		name := strings.TrimSpace(req.Name)
		if err := svc.AddTaskOfType(name, strings.TrimSpace(req.CronExpression), taskType); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"message": "task added",
			"name":    name,
		})
	}
}

// SchedulerRemoveTask unschedules a task by name.
func SchedulerRemoveTask(svc SchedulerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "scheduler unavailable"))
			return
		}
		name := strings.TrimSpace(chi.URLParam(r, "name"))
		if name == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "task name required"))
			return
		}
		if err := svc.RemoveTask(name); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"message": "task removed",
			"name":    name,
		})
	}
}
