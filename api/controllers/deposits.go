package controllers

import (
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/safetransit/api/responses"
	"github.com/angelmondragon/safetransit/api/validators"
	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/pkg/enums"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/pagination"
)

type depositCreateRequest struct {
	Amount                  *decimal.Decimal `json:"amount" validate:"required"`
	Requirement             string           `json:"requirement" validate:"notblank"`
	TimeLimit               *time.Time       `json:"time_limit" validate:"required"`
	CreatorID               string           `json:"creator_id" validate:"notblank"`
	ReceiverID              string           `json:"receiver_id" validate:"notblank"`
	CreatorEmail            *string          `json:"creator_email,omitempty" validate:"omitempty,email"`
	ReceiverEmail           *string          `json:"receiver_email,omitempty" validate:"omitempty,email"`
	NotificationPreferences map[string]bool  `json:"notification_preferences,omitempty"`
}

func (r depositCreateRequest) toInput() deposits.CreateInput {
	return deposits.CreateInput{
		Amount:                  *r.Amount,
		Requirement:             r.Requirement,
		TimeLimit:               *r.TimeLimit,
		CreatorID:               strings.TrimSpace(r.CreatorID),
		ReceiverID:              strings.TrimSpace(r.ReceiverID),
		CreatorEmail:            r.CreatorEmail,
		ReceiverEmail:           r.ReceiverEmail,
		NotificationPreferences: r.NotificationPreferences,
	}
}

type preferencesRequest struct {
	NotificationPreferences map[string]bool `json:"notification_preferences" validate:"required"`
}

type emailsRequest struct {
	CreatorEmail  *string `json:"creator_email"`
	ReceiverEmail *string `json:"receiver_email"`
}

// DepositCreate records a new deposit in the created/pending state.
func DepositCreate(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}

		var req depositCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		d, err := svc.Create(r.Context(), req.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"message": "deposit created",
			"deposit": d,
		})
	}
}

// DepositGet returns one deposit, expiring it first when its deadline has passed.
func DepositGet(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
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
		d, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, d)
	}
}

// DepositList returns a newest-first page of deposits with optional filters.
func DepositList(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}
		params, err := parseDepositListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// DepositFulfil marks an open deposit as fulfilled.
func DepositFulfil(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
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
		d, err := svc.Fulfil(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"message": "deposit fulfilled",
			"deposit": d,
		})
	}
}

// DepositPreferences merges notification opt-ins into a deposit.
func DepositPreferences(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
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
		var req preferencesRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		d, err := svc.UpdatePreferences(r.Context(), id, req.NotificationPreferences)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, d)
	}
}

// DepositEmails replaces the contact addresses of both parties.
func DepositEmails(svc deposits.Service, logg *logger.Logger) http.HandlerFunc {
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
		var req emailsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		d, err := svc.UpdateEmails(r.Context(), id, req.CreatorEmail, req.ReceiverEmail)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, d)
	}
}

func parseDepositListParams(r *http.Request) (deposits.ListParams, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return deposits.ListParams{}, err
	}
	offset, err := validators.ParseQueryInt(r, "offset", 0, 0, math.MaxInt32)
	if err != nil {
		return deposits.ListParams{}, err
	}
	params := deposits.ListParams{Limit: limit, Offset: offset}

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseDepositStatus(raw)
		if err != nil {
			return deposits.ListParams{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid status").WithDetails(map[string]any{"field": "status"})
		}
		params.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("payment_status")); raw != "" {
		status, err := enums.ParsePaymentStatus(raw)
		if err != nil {
			return deposits.ListParams{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment_status").WithDetails(map[string]any{"field": "payment_status"})
		}
		params.PaymentStatus = &status
	}
	return params, nil
}
