package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/pagination"
)

// ActorSystem identifies automated changes made by the scheduler or gateway handlers.
const ActorSystem = "system"

// Service appends to and reads from the audit trail.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*models.AuditLog, error)
	Query(ctx context.Context, params QueryParams) (QueryResult, error)
}

// RecordInput carries one audit entry. Previous and new values of both status
// fields are always captured, even when only one changed.
type RecordInput struct {
	DepositID             uuid.UUID
	Action                enums.AuditAction
	PreviousStatus        enums.DepositStatus
	NewStatus             enums.DepositStatus
	PreviousPaymentStatus enums.PaymentStatus
	NewPaymentStatus      enums.PaymentStatus
	Actor                 string
	Reason                string
	Metadata              map[string]any
}

// QueryParams filters and paginates the trail.
type QueryParams struct {
	DepositID *uuid.UUID
	Limit     int
	Offset    int
}

// QueryResult is one newest-first page of the trail.
type QueryResult struct {
	Entries []models.AuditLog `json:"audit_logs"`
	pagination.Page
}

// Transition builds a RecordInput from the before and after snapshots of a deposit.
func Transition(action enums.AuditAction, before, after *models.Deposit, actor, reason string, metadata map[string]any) RecordInput {
	return RecordInput{
		DepositID:             after.ID,
		Action:                action,
		PreviousStatus:        before.Status,
		NewStatus:             after.Status,
		PreviousPaymentStatus: before.PaymentStatus,
		NewPaymentStatus:      after.PaymentStatus,
		Actor:                 actor,
		Reason:                reason,
		Metadata:              metadata,
	}
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	return NewServiceWithClock(repo, time.Now)
}

// NewServiceWithClock is NewService with an injectable clock.
func NewServiceWithClock(repo Repository, now func() time.Time) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	if now == nil {
		now = time.Now
	}
	return &service{repo: repo, now: now}, nil
}

func (s *service) Record(ctx context.Context, input RecordInput) (*models.AuditLog, error) {
	if input.DepositID == uuid.Nil {
		return nil, pkgerrors.InvalidInput("deposit id is required")
	}
	if !input.Action.IsValid() {
		return nil, pkgerrors.InvalidInput(fmt.Sprintf("invalid audit action %q", input.Action))
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return nil, pkgerrors.InvalidInput("actor is required")
	}
	reason := strings.TrimSpace(input.Reason)
	if actor != ActorSystem && reason == "" {
		return nil, pkgerrors.InvalidInput("reason is required for admin actions")
	}

	entry := &models.AuditLog{
		ID:                    uuid.New(),
		DepositID:             input.DepositID,
		Action:                input.Action,
		PreviousStatus:        input.PreviousStatus,
		NewStatus:             input.NewStatus,
		PreviousPaymentStatus: input.PreviousPaymentStatus,
		NewPaymentStatus:      input.NewPaymentStatus,
		Actor:                 actor,
		Reason:                reason,
		Metadata:              input.Metadata,
		Timestamp:             s.now().UTC(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record audit entry")
	}
	return entry, nil
}

func (s *service) Query(ctx context.Context, params QueryParams) (QueryResult, error) {
	page := pagination.Params{Limit: params.Limit, Offset: params.Offset}.Normalize()
	entries, total, err := s.repo.List(ctx, params.DepositID, page)
	if err != nil {
		return QueryResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "query audit trail")
	}
	if entries == nil {
		entries = []models.AuditLog{}
	}
	return QueryResult{
		Entries: entries,
		Page:    pagination.Page{Limit: page.Limit, Offset: page.Offset, Total: total},
	}, nil
}
