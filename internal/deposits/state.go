package deposits

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
)

const (
	// MaxRequirementLength bounds the free-text requirement in characters.
	MaxRequirementLength = 1000

	PreferenceExpiration    = "expiration"
	PreferenceExpiringSoon  = "expiring_soon"
	PreferencePaymentFailed = "payment_failed"
	PreferenceFulfillment   = "fulfillment"
)

var emailValidator = validator.New()

// CreateInput carries the caller-supplied fields of a new deposit.
type CreateInput struct {
	Amount                  decimal.Decimal
	Requirement             string
	TimeLimit               time.Time
	CreatorID               string
	ReceiverID              string
	CreatorEmail            *string
	ReceiverEmail           *string
	NotificationPreferences map[string]bool
}

// DefaultPreferences returns the opt-in map assigned to new deposits.
func DefaultPreferences() map[string]bool {
	return map[string]bool{
		PreferenceExpiration:    true,
		PreferenceExpiringSoon:  true,
		PreferencePaymentFailed: true,
		PreferenceFulfillment:   true,
	}
}

// IsPreferenceKey reports whether key names a known notification preference.
func IsPreferenceKey(key string) bool {
	_, ok := DefaultPreferences()[key]
	return ok
}

// NewDeposit validates input and builds a deposit in the created/pending state.
// Nothing is persisted.
func NewDeposit(input CreateInput, now time.Time) (*models.Deposit, error) {
	now = now.UTC()
	amount := input.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, pkgerrors.InvalidInput("amount must be at least 0.01")
	}
	requirement := strings.TrimSpace(input.Requirement)
	if requirement == "" {
		return nil, pkgerrors.InvalidInput("requirement is required")
	}
	if utf8.RuneCountInString(requirement) > MaxRequirementLength {
		return nil, pkgerrors.InvalidInput(fmt.Sprintf("requirement must be at most %d characters", MaxRequirementLength))
	}
	if input.TimeLimit.IsZero() || !input.TimeLimit.After(now) {
		return nil, pkgerrors.InvalidInput("time_limit must be in the future")
	}
	creatorEmail, err := normalizeEmail("creator_email", input.CreatorEmail)
	if err != nil {
		return nil, err
	}
	receiverEmail, err := normalizeEmail("receiver_email", input.ReceiverEmail)
	if err != nil {
		return nil, err
	}
	prefs, err := MergePreferences(DefaultPreferences(), input.NotificationPreferences)
	if err != nil {
		return nil, err
	}

	return &models.Deposit{
		ID:                      uuid.New(),
		Amount:                  amount,
		Requirement:             requirement,
		TimeLimit:               input.TimeLimit.UTC(),
		CreatorID:               strings.TrimSpace(input.CreatorID),
		ReceiverID:              strings.TrimSpace(input.ReceiverID),
		CreatorEmail:            creatorEmail,
		ReceiverEmail:           receiverEmail,
		Status:                  enums.DepositStatusCreated,
		PaymentStatus:           enums.PaymentStatusPending,
		NotificationPreferences: prefs,
		CreatedAt:               now,
		UpdatedAt:               now,
	}, nil
}

// TransitionStatus sets the deposit status. Only the enum is checked; which
// transitions are legal is decided by the caller.
func TransitionStatus(d *models.Deposit, status enums.DepositStatus, now time.Time) error {
	if !status.IsValid() {
		return pkgerrors.InvalidState(fmt.Sprintf("invalid status %q", status)).
			WithDetails(map[string]any{"status": string(status)})
	}
	d.Status = status
	touch(d, now)
	return nil
}

// TransitionPaymentStatus sets the payment status under the same rules as TransitionStatus.
func TransitionPaymentStatus(d *models.Deposit, status enums.PaymentStatus, now time.Time) error {
	if !status.IsValid() {
		return pkgerrors.InvalidState(fmt.Sprintf("invalid payment status %q", status)).
			WithDetails(map[string]any{"payment_status": string(status)})
	}
	d.PaymentStatus = status
	touch(d, now)
	return nil
}

// MergePreferences overlays updates on base. Unknown keys are rejected.
func MergePreferences(base, updates map[string]bool) (map[string]bool, error) {
	out := make(map[string]bool, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range updates {
		if !IsPreferenceKey(k) {
			return nil, pkgerrors.InvalidInput(fmt.Sprintf("unknown notification preference %q", k))
		}
		out[k] = v
	}
	return out, nil
}

// IsPastDeadline reports whether d has outlived its time limit without reaching
// a terminal status.
func IsPastDeadline(d *models.Deposit, now time.Time) bool {
	return !d.Status.IsTerminal() && d.TimeLimit.Before(now)
}

// AwaitsFundsReturn reports whether an expired deposit still has money held or
// captured at the gateway.
func AwaitsFundsReturn(d *models.Deposit) bool {
	return d.Status == enums.DepositStatusExpired && d.PaymentStatus.HoldsFunds()
}

func touch(d *models.Deposit, now time.Time) {
	now = now.UTC()
	if now.After(d.UpdatedAt) {
		d.UpdatedAt = now
	}
	if d.UpdatedAt.Before(d.CreatedAt) {
		d.UpdatedAt = d.CreatedAt
	}
}

func normalizeEmail(field string, value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil, nil
	}
	if err := emailValidator.Var(trimmed, "email"); err != nil {
		return nil, pkgerrors.InvalidInput(fmt.Sprintf("%s must be a valid email address", field))
	}
	return &trimmed, nil
}
