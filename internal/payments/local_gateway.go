package payments

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/pkg/config"
)

// LocalGateway accepts every request without calling out. Holds it places are
// confirmed by Capture on the orchestrator instead of an asynchronous event.
type LocalGateway struct{}

func NewLocalGateway() *LocalGateway { return &LocalGateway{} }

func (LocalGateway) Name() string { return config.PaymentGatewayLocal }

func (LocalGateway) InitiateHold(ctx context.Context, req HoldRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24], nil
}

func (LocalGateway) Capture(ctx context.Context, ref string) error { return ctx.Err() }
func (LocalGateway) Cancel(ctx context.Context, ref string) error  { return ctx.Err() }
func (LocalGateway) Refund(ctx context.Context, ref string) error  { return ctx.Err() }
