package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HoldRequest describes the authorization placed on the payer's funds when a
// deposit is created.
type HoldRequest struct {
	DepositID   uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// Gateway is the capability set the orchestrator needs from a payment provider.
// Implementations identify holds by an opaque external reference.
type Gateway interface {
	Name() string
	InitiateHold(ctx context.Context, req HoldRequest) (string, error)
	Capture(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
	Refund(ctx context.Context, ref string) error
}
