package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/api/middleware"
	"github.com/angelmondragon/safetransit/api/responses"
	"github.com/angelmondragon/safetransit/api/validators"
	"github.com/angelmondragon/safetransit/internal/payments"
	"github.com/angelmondragon/safetransit/pkg/db/models"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

// PaymentService is the slice of the payment orchestrator the HTTP layer drives.
type PaymentService interface {
	InitiateHold(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	Capture(ctx context.Context, id uuid.UUID, actor payments.Actor) (*models.Deposit, *models.AuditLog, error)
	CancelHold(ctx context.Context, id uuid.UUID, actor payments.Actor) (*models.Deposit, *models.AuditLog, error)
	Refund(ctx context.Context, id uuid.UUID, actor payments.Actor) (*models.Deposit, *models.AuditLog, error)
	Restitute(ctx context.Context, id uuid.UUID, adminID, reason string) (*models.Deposit, *models.AuditLog, error)
}

type paymentRequest struct {
	DepositID string `json:"deposit_id" validate:"notblank"`
}

type adminActionRequest struct {
	AdminID  string         `json:"admin_id"`
	Reason   string         `json:"reason" validate:"notblank"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// adminID prefers the id in the body and falls back to the token subject.
func (r adminActionRequest) adminID(ctx context.Context) string {
	if id := strings.TrimSpace(r.AdminID); id != "" {
		return id
	}
	return middleware.UserIDFromContext(ctx)
}

type systemPaymentCall func(ctx context.Context, id uuid.UUID, actor payments.Actor) (*models.Deposit, *models.AuditLog, error)

// PaymentCreate places a hold for the deposit amount with the configured gateway.
func PaymentCreate(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		id, ok := decodePaymentRequest(w, r, logg)
		if !ok {
			return
		}
		d, err := svc.InitiateHold(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"message": "payment hold initiated",
			"deposit": d,
		})
	}
}

// PaymentCapture settles a confirmed hold.
func PaymentCapture(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailablePayment(logg)
	}
	return systemPayment(svc.Capture, "payment captured", logg)
}

// PaymentRelease returns held or captured funds to the payer.
func PaymentRelease(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailablePayment(logg)
	}
	return systemPayment(svc.Refund, "payment released", logg)
}

func systemPayment(call systemPaymentCall, message string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := decodePaymentRequest(w, r, logg)
		if !ok {
			return
		}
		d, _, err := call(r.Context(), id, payments.SystemActor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"message": message,
			"deposit": d,
		})
	}
}

// AdminPaymentCapture captures a hold on behalf of an administrator.
func AdminPaymentCapture(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailablePayment(logg)
	}
	return adminPayment(svc.Capture, logg)
}

// AdminPaymentCancelHold voids a hold on behalf of an administrator.
func AdminPaymentCancelHold(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailablePayment(logg)
	}
	return adminPayment(svc.CancelHold, logg)
}

// AdminPaymentRefund refunds a deposit on behalf of an administrator.
func AdminPaymentRefund(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailablePayment(logg)
	}
	return adminPayment(svc.Refund, logg)
}

func adminPayment(call systemPaymentCall, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req adminActionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor := payments.Actor{ID: req.adminID(r.Context()), Reason: req.Reason, Metadata: req.Metadata}
		if actor.ID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "admin_id is required"))
			return
		}
		d, entry, err := call(r.Context(), id, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"deposit":   d,
			"audit_log": entry,
		})
	}
}

// AdminRestitute returns funds to the payer and cancels a live deposit.
func AdminRestitute(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req adminActionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		d, entry, err := svc.Restitute(r.Context(), id, req.adminID(r.Context()), req.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"message":   "restitution processed",
			"deposit":   d,
			"audit_log": entry,
		})
	}
}

func decodePaymentRequest(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	var req paymentRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	id, err := validators.ParseUUIDString(req.DepositID, "deposit_id")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	return id, true
}

func unavailablePayment(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
	}
}
