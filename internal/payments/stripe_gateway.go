package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	"github.com/angelmondragon/safetransit/pkg/config"
	pkgstripe "github.com/angelmondragon/safetransit/pkg/stripe"
)

// MetadataDepositID is the PaymentIntent metadata key carrying the deposit id.
const MetadataDepositID = "deposit_id"

// StripeGateway places deposit holds as manually captured PaymentIntents.
type StripeGateway struct {
	currency string
}

// NewStripeGateway builds a gateway on an initialized Stripe client.
func NewStripeGateway(client *pkgstripe.Client) (*StripeGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return &StripeGateway{currency: client.Currency()}, nil
}

func (g *StripeGateway) Name() string { return config.PaymentGatewayStripe }

func (g *StripeGateway) InitiateHold(ctx context.Context, req HoldRequest) (string, error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = g.currency
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Shift(2).Round(0).IntPart()),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String(req.Description),
	}
	params.AddMetadata(MetadataDepositID, req.DepositID.String())
	params.Context = ctx

	intent, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("create payment intent: %w", err)
	}
	return intent.ID, nil
}

func (g *StripeGateway) Capture(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if _, err := paymentintent.Capture(ref, params); err != nil {
		return fmt.Errorf("capture payment intent %s: %w", ref, err)
	}
	return nil
}

func (g *StripeGateway) Cancel(ctx context.Context, ref string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := paymentintent.Cancel(ref, params); err != nil {
		return fmt.Errorf("cancel payment intent %s: %w", ref, err)
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, ref string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(ref)}
	params.Context = ctx
	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("refund payment intent %s: %w", ref, err)
	}
	return nil
}
