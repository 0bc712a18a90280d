package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/internal/payments"
	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/metrics"
)

// Expiry triggers recorded in auto_expire metadata.
const (
	TriggerSweep = "scheduler"
	TriggerLazy  = "lazy"
)

var errNotDue = errors.New("deposit not due for expiry")

// Refunder returns funds for a deposit whose lock the caller already holds.
type Refunder interface {
	RefundLocked(ctx context.Context, id uuid.UUID) (payments.RefundResult, error)
}

// ExpirerParams wires an Expirer.
type ExpirerParams struct {
	Store    deposits.Store
	Locker   *deposits.Locker
	Refunder Refunder
	Audit    audit.Service
	Notifier deposits.Notifier
	Metrics  *metrics.DepositMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// Expirer moves overdue deposits to expired, returns held funds and tells the
// creator. All steps for one record run under that record's lock.
type Expirer struct {
	store    deposits.Store
	locker   *deposits.Locker
	refunder Refunder
	audit    audit.Service
	notifier deposits.Notifier
	metrics  *metrics.DepositMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewExpirer validates params and returns an expirer.
func NewExpirer(params ExpirerParams) (*Expirer, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("deposit store required")
	}
	if params.Refunder == nil {
		return nil, fmt.Errorf("refunder required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if params.Locker == nil {
		params.Locker = deposits.NewLocker()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Expirer{
		store:    params.Store,
		locker:   params.Locker,
		refunder: params.Refunder,
		audit:    params.Audit,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      params.Now,
	}, nil
}

// ExpireIfDue expires the deposit when a read finds it overdue. It returns the
// current record either way.
func (e *Expirer) ExpireIfDue(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	d, _, err := e.expire(ctx, id, TriggerLazy)
	return d, err
}

// expire runs the full expiry path for one record. The bool reports whether
// this call performed the transition. An expired record that still holds funds
// gets its refund retried. Audit and refund failures are collected so a failed
// audit write never leaves funds behind.
func (e *Expirer) expire(ctx context.Context, id uuid.UUID, trigger string) (*models.Deposit, bool, error) {
	unlock := e.locker.Lock(id)
	defer unlock()
	ctx = e.ctxFor(ctx, id)

	before, after, err := deposits.UpdateLocked(ctx, e.store, id, func(d *models.Deposit) error {
		now := e.now()
		if !deposits.IsPastDeadline(d, now) {
			return errNotDue
		}
		return deposits.TransitionStatus(d, enums.DepositStatusExpired, now)
	})
	if errors.Is(err, errNotDue) {
		if before != nil && deposits.AwaitsFundsReturn(before) {
			if e.logg != nil {
				e.logg.Warn(ctx, "retrying refund for expired deposit")
			}
			refunded, err := e.refund(ctx, before)
			return refunded, false, err
		}
		return before, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	deposits.ObserveTransition(e.metrics, before, after)

	var errs error
	if _, err := e.audit.Record(ctx, audit.Transition(enums.AuditActionAutoExpire, before, after, audit.ActorSystem,
		"Deposit expired after its time limit passed", map[string]any{
			"trigger":    trigger,
			"time_limit": after.TimeLimit.UTC().Format(time.RFC3339),
		})); err != nil {
		if e.logg != nil {
			e.logg.Error(ctx, "record expiry failed", err)
		}
		errs = multierr.Append(errs, fmt.Errorf("record expiry: %w", err))
	}

	if after.PaymentStatus.HoldsFunds() {
		refunded, err := e.refund(ctx, after)
		errs = multierr.Append(errs, err)
		after = refunded
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, after, enums.NotificationTypeExpired); err != nil && e.logg != nil {
			e.logg.Error(ctx, "expiration notification failed", err)
		}
	}
	if e.logg != nil {
		e.logg.Info(e.logg.WithFields(ctx, map[string]any{
			"trigger":        trigger,
			"payment_status": after.PaymentStatus.String(),
		}), "deposit expired")
	}
	return after, true, errs
}

func (e *Expirer) refund(ctx context.Context, d *models.Deposit) (*models.Deposit, error) {
	result, err := e.refunder.RefundLocked(ctx, d.ID)
	if err != nil {
		return d, fmt.Errorf("refund expired deposit: %w", err)
	}
	metadata := map[string]any{"refund_method": result.Method}
	reason := "Automatic refund for expired deposit"
	if result.GatewayErr != nil {
		metadata["gateway_error"] = result.GatewayErr.Error()
		reason = "Automatic refund for expired deposit failed"
	}
	if _, err := e.audit.Record(ctx, audit.Transition(enums.AuditActionAutoRefund, result.Before, result.After, audit.ActorSystem, reason, metadata)); err != nil {
		return result.After, err
	}
	return result.After, nil
}

func (e *Expirer) ctxFor(ctx context.Context, id uuid.UUID) context.Context {
	if e.logg == nil {
		return ctx
	}
	return e.logg.WithDepositID(ctx, id.String())
}
