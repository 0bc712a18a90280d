package controllers

import (
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/api/responses"
	"github.com/angelmondragon/safetransit/api/validators"
	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/pkg/enums"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/pagination"
)

type overrideRequest struct {
	Status        *string        `json:"status"`
	PaymentStatus *string        `json:"payment_status"`
	AdminID       string         `json:"admin_id"`
	Reason        string         `json:"reason" validate:"notblank"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (req overrideRequest) toInput(id uuid.UUID, adminID string) (deposits.OverrideInput, error) {
	input := deposits.OverrideInput{
		ID:       id,
		AdminID:  adminID,
		Reason:   strings.TrimSpace(req.Reason),
		Metadata: req.Metadata,
	}
	if req.Status != nil {
		status, err := enums.ParseDepositStatus(strings.TrimSpace(*req.Status))
		if err != nil {
			return deposits.OverrideInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid status").WithDetails(map[string]any{"field": "status"})
		}
		input.Status = &status
	}
	if req.PaymentStatus != nil {
		status, err := enums.ParsePaymentStatus(strings.TrimSpace(*req.PaymentStatus))
		if err != nil {
			return deposits.OverrideInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment_status").WithDetails(map[string]any{"field": "payment_status"})
		}
		input.PaymentStatus = &status
	}
	return input, nil
}

// AdminDeposits lists deposits with status and payment status filters.
func AdminDeposits(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
	return DepositList(svc, logg)
}

// AdminOverride forces a deposit into the requested state and records who did it.
func AdminOverride(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req overrideRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		adminID := adminActionRequest{AdminID: req.AdminID}.adminID(r.Context())
		input, err := req.toInput(id, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		d, entry, err := svc.Override(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"message":   "deposit overridden",
			"deposit":   d,
			"audit_log": entry,
		})
	}
}

// AdminAuditLogs pages through the audit trail, newest first.
func AdminAuditLogs(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
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
		params := audit.QueryParams{Limit: limit, Offset: offset}
		if raw := strings.TrimSpace(r.URL.Query().Get("deposit_id")); raw != "" {
			id, err := validators.ParseUUIDString(raw, "deposit_id")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			params.DepositID = &id
		}
		result, err := svc.Query(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminStats summarises every deposit.
func AdminStats(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}
		stats, err := svc.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}
