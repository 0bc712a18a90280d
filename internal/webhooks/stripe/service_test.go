package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/safetransit/internal/payments"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
)

type recordingHandler struct {
	events []payments.Event
}

func (h *recordingHandler) HandleEvent(_ context.Context, event payments.Event) error {
	h.events = append(h.events, event)
	return nil
}

func intentEvent(t *testing.T, eventType stripe.EventType, intent *stripe.PaymentIntent) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{ID: "evt_" + intent.ID, Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func TestService_MapsPaymentIntentEvents(t *testing.T) {
	depositID := uuid.New()
	tests := []struct {
		eventType stripe.EventType
		want      payments.EventType
	}{
		{stripe.EventTypePaymentIntentAmountCapturableUpdated, payments.EventHoldSucceeded},
		{stripe.EventTypePaymentIntentPaymentFailed, payments.EventHoldFailed},
		{stripe.EventTypePaymentIntentCanceled, payments.EventHoldCancelled},
		{stripe.EventTypePaymentIntentSucceeded, payments.EventCaptureSucceeded},
	}
	for _, tc := range tests {
		handler := &recordingHandler{}
		service, err := NewService(ServiceParams{Handler: handler})
		if err != nil {
			t.Fatalf("setup service: %v", err)
		}
		intent := &stripe.PaymentIntent{
			ID:       "pi_123",
			Metadata: map[string]string{payments.MetadataDepositID: depositID.String()},
		}
		if err := service.HandleEvent(context.Background(), intentEvent(t, tc.eventType, intent)); err != nil {
			t.Fatalf("%s: handle event: %v", tc.eventType, err)
		}
		if len(handler.events) != 1 {
			t.Fatalf("%s: expected one payment event, got %d", tc.eventType, len(handler.events))
		}
		got := handler.events[0]
		if got.Type != tc.want || got.DepositID != depositID || got.PaymentRef != "pi_123" {
			t.Fatalf("%s: unexpected event %+v", tc.eventType, got)
		}
	}
}

func TestService_CarriesFailureReason(t *testing.T) {
	handler := &recordingHandler{}
	service, _ := NewService(ServiceParams{Handler: handler})
	intent := &stripe.PaymentIntent{
		ID:               "pi_fail",
		Metadata:         map[string]string{payments.MetadataDepositID: uuid.NewString()},
		LastPaymentError: &stripe.Error{Msg: "card declined"},
	}
	if err := service.HandleEvent(context.Background(), intentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, intent)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if handler.events[0].Reason != "card declined" {
		t.Fatalf("expected failure reason, got %q", handler.events[0].Reason)
	}
}

func TestService_IgnoresUnrelatedEvents(t *testing.T) {
	handler := &recordingHandler{}
	service, _ := NewService(ServiceParams{Handler: handler})

	unrelated := &stripe.Event{Type: stripe.EventTypeCustomerCreated, Data: &stripe.EventData{Raw: []byte(`{}`)}}
	if err := service.HandleEvent(context.Background(), unrelated); err != nil {
		t.Fatalf("unrelated event: %v", err)
	}
	foreign := intentEvent(t, stripe.EventTypePaymentIntentSucceeded, &stripe.PaymentIntent{ID: "pi_other"})
	if err := service.HandleEvent(context.Background(), foreign); err != nil {
		t.Fatalf("intent without metadata: %v", err)
	}
	if len(handler.events) != 0 {
		t.Fatalf("expected no payment events, got %d", len(handler.events))
	}
}

func TestService_RejectsMissingData(t *testing.T) {
	service, _ := NewService(ServiceParams{Handler: &recordingHandler{}})
	if err := service.HandleEvent(context.Background(), &stripe.Event{}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDepositIDFromMetadata(t *testing.T) {
	id := uuid.New()
	got, err := DepositIDFromMetadata(map[string]string{"deposit_id": " " + id.String() + " "})
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
	if _, err := DepositIDFromMetadata(map[string]string{"deposit_id": "nope"}); err == nil {
		t.Fatalf("expected error for invalid id")
	}
	if _, err := DepositIDFromMetadata(nil); err == nil {
		t.Fatalf("expected error for missing id")
	}
}
