package controllers

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/api/responses"
	"github.com/angelmondragon/safetransit/api/validators"
	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/internal/notifications"
	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/pagination"
)

// NotificationService reads and sends deposit notifications.
type NotificationService interface {
	Send(ctx context.Context, d *models.Deposit, kind enums.NotificationType) (notifications.SendResult, error)
	History(ctx context.Context, depositID uuid.UUID) ([]models.NotificationRecord, error)
	List(ctx context.Context, params notifications.ListParams) (notifications.ListResult, error)
}

type testNotificationRequest struct {
	DepositID string `json:"deposit_id" validate:"notblank"`
	Type      string `json:"type"`
}

// NotificationList pages through sent notifications, optionally for one deposit.
func NotificationList(svc NotificationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, math.MaxInt32)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := notifications.ListParams{Limit: limit, Offset: offset}
		if raw := strings.TrimSpace(r.URL.Query().Get("deposit_id")); raw != "" {
			id, err := validators.ParseUUIDString(raw, "deposit_id")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			params.DepositID = &id
		}
		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// DepositNotifications returns every notification recorded for one deposit.
func DepositNotifications(svc NotificationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		history, err := svc.History(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"notifications": history})
	}
}

// NotificationTest sends a notification of the requested type for a deposit.
func NotificationTest(depositSvc deposits.Service, svc NotificationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if depositSvc == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notification service unavailable"))
			return
		}
		var req testNotificationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDString(req.DepositID, "deposit_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind := enums.NotificationTypeTest
		if raw := strings.TrimSpace(req.Type); raw != "" {
			kind, err = enums.ParseNotificationType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type").WithDetails(map[string]any{"field": "type"}))
				return
			}
		}

		d, err := depositSvc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Send(r.Context(), d, kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
