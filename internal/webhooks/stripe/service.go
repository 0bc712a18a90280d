package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/safetransit/internal/payments"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

// EventHandler applies a gateway event to its deposit.
type EventHandler interface {
	HandleEvent(ctx context.Context, event payments.Event) error
}

type ServiceParams struct {
	Handler EventHandler
	Logger  *logger.Logger
}

// Service translates Stripe payment intent events into deposit payment events.
type Service struct {
	handler EventHandler
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Handler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment event handler required")
	}
	return &Service{handler: params.Handler, logg: params.Logger}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	kind, ok := eventTypeFor(event.Type)
	if !ok {
		s.debug(ctx, fmt.Sprintf("ignoring stripe event type %s", event.Type))
		return nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	depositID, err := DepositIDFromMetadata(intent.Metadata)
	if err != nil {
		// intents created outside this service carry no deposit id
		s.debug(ctx, fmt.Sprintf("payment intent %s has no deposit metadata", intent.ID))
		return nil
	}

	return s.handler.HandleEvent(ctx, payments.Event{
		Type:       kind,
		DepositID:  depositID,
		PaymentRef: intent.ID,
		Reason:     failureReason(&intent),
	})
}

// DepositIDFromMetadata reads the deposit id stamped on the intent at creation.
func DepositIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	raw := strings.TrimSpace(metadata[payments.MetadataDepositID])
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "deposit_id metadata missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid deposit_id metadata")
	}
	return id, nil
}

func eventTypeFor(t stripe.EventType) (payments.EventType, bool) {
	switch t {
	case stripe.EventTypePaymentIntentAmountCapturableUpdated:
		return payments.EventHoldSucceeded, true
	case stripe.EventTypePaymentIntentPaymentFailed:
		return payments.EventHoldFailed, true
	case stripe.EventTypePaymentIntentCanceled:
		return payments.EventHoldCancelled, true
	case stripe.EventTypePaymentIntentSucceeded:
		return payments.EventCaptureSucceeded, true
	}
	return "", false
}

func failureReason(intent *stripe.PaymentIntent) string {
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		return intent.LastPaymentError.Msg
	}
	if intent.CancellationReason != "" {
		return string(intent.CancellationReason)
	}
	return ""
}

func (s *Service) debug(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Debug(ctx, msg)
	}
}
