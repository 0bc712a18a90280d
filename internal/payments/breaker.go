package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/metrics"
)

const defaultGatewayTimeout = 10 * time.Second

// ErrGatewayUnavailable is returned while the breaker rejects calls.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// GuardedGateway bounds every call with a timeout and trips a circuit breaker
// after repeated failures.
type GuardedGateway struct {
	inner   Gateway
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.DepositMetrics
}

// NewGuardedGateway wraps inner with the breaker settings from cfg.
func NewGuardedGateway(inner Gateway, cfg config.PaymentsConfig, logg *logger.Logger, m *metrics.DepositMetrics) *GuardedGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	trigger := cfg.BreakerFailureTrigger
	if trigger == 0 {
		trigger = 5
	}
	g := &GuardedGateway{inner: inner, timeout: timeout, logg: logg, metrics: m}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway-" + inner.Name(),
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trigger
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "payment gateway breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return g
}

func (g *GuardedGateway) Name() string { return g.inner.Name() }

// State reports the breaker position (closed, half-open, open).
func (g *GuardedGateway) State() string { return g.breaker.State().String() }

func (g *GuardedGateway) InitiateHold(ctx context.Context, req HoldRequest) (string, error) {
	var ref string
	err := g.call(ctx, "initiate_hold", func(ctx context.Context) error {
		var err error
		ref, err = g.inner.InitiateHold(ctx, req)
		return err
	})
	return ref, err
}

func (g *GuardedGateway) Capture(ctx context.Context, ref string) error {
	return g.call(ctx, "capture", func(ctx context.Context) error { return g.inner.Capture(ctx, ref) })
}

func (g *GuardedGateway) Cancel(ctx context.Context, ref string) error {
	return g.call(ctx, "cancel", func(ctx context.Context) error { return g.inner.Cancel(ctx, ref) })
}

func (g *GuardedGateway) Refund(ctx context.Context, ref string) error {
	return g.call(ctx, "refund", func(ctx context.Context) error { return g.inner.Refund(ctx, ref) })
}

func (g *GuardedGateway) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w (%s): %v", ErrGatewayUnavailable, g.inner.Name(), err)
	}
	g.metrics.IncGatewayCall(op, err)
	return err
}
