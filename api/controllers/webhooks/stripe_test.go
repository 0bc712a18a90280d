package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/angelmondragon/safetransit/internal/webhooks/stripe"
	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/redis"
	pkgstripe "github.com/angelmondragon/safetransit/pkg/stripe"
)

func newGuard(t *testing.T) *stripewebhook.IdempotencyGuard {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(redis.NewMemoryStore(), time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func newVerifier(t *testing.T) *pkgstripe.Client {
	t.Helper()
	client, err := pkgstripe.NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_webhooks", Secret: "whsec_test"}, nil)
	if err != nil {
		t.Fatalf("stripe client setup: %v", err)
	}
	return client
}

func postEvent(handler http.HandlerFunc, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, newVerifier(t), newGuard(t), nil)

	rec := postEvent(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	rec = postEvent(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"duplicate":true`)) {
		t.Fatalf("expected duplicate receipt, got %s", rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
	if service.lastType != stripe.EventTypePaymentIntentAmountCapturableUpdated {
		t.Fatalf("unexpected event type %s", service.lastType)
	}
}

func TestStripeWebhook_FailedEventCanBeRedelivered(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{err: errors.New("store offline")}
	handler := StripeWebhook(service, newVerifier(t), newGuard(t), nil)

	rec := postEvent(handler, payload, header)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	service.err = nil
	rec = postEvent(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", rec.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected redelivery to be processed, call count %d", service.calls)
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, newVerifier(t), newGuard(t), nil)

	rec := postEvent(handler, payload, "t=1,v1=invalid")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
	rec = postEvent(handler, payload, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_InFlightDeliveryIsRetryableConflict(t *testing.T) {
	payload, header := buildSignedEvent(t)
	guard := newGuard(t)
	var inner *httptest.ResponseRecorder
	var handler http.HandlerFunc
	service := &fakeStripeWebhookService{onHandle: func() {
		inner = postEvent(handler, payload, header)
	}}
	handler = StripeWebhook(service, newVerifier(t), guard, nil)

	rec := postEvent(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for first delivery, got %d", rec.Code)
	}
	if inner == nil || inner.Code != http.StatusConflict {
		t.Fatalf("expected 409 for overlapping delivery, got %+v", inner)
	}
	if !bytes.Contains(inner.Body.Bytes(), []byte(`"retryable":true`)) {
		t.Fatalf("expected retryable hint, got %s", inner.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected a single application, got %d", service.calls)
	}
}

func TestStripeWebhook_Unconfigured(t *testing.T) {
	payload, header := buildSignedEvent(t)
	rec := postEvent(StripeWebhook(nil, nil, nil, nil), payload, header)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func buildSignedEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	intent := &stripe.PaymentIntent{
		ID:     "pi_" + uuid.NewString(),
		Status: stripe.PaymentIntentStatusRequiresCapture,
		Metadata: map[string]string{
			"deposit_id": uuid.NewString(),
		},
	}
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal payment intent: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentAmountCapturableUpdated,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: raw,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := buildStripeSignatureHeader(payload, "whsec_test", time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	calls    int
	lastType stripe.EventType
	err      error
	onHandle func()
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.calls++
	f.lastType = event.Type
	if f.onHandle != nil {
		hook := f.onHandle
		f.onHandle = nil
		hook()
	}
	return f.err
}
