package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

const ExpiredDepositsJobName = "expired-deposits"

type ExpiredDepositsJobParams struct {
	Logger  *logger.Logger
	Store   deposits.Store
	Expirer *Expirer
	Now     func() time.Time
}

// NewExpiredDepositsJob builds the sweep that expires every overdue deposit and
// retries refunds for expired deposits that still hold funds.
func NewExpiredDepositsJob(params ExpiredDepositsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("deposit store required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("expirer required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &expiredDepositsJob{
		logg:    params.Logger,
		store:   params.Store,
		expirer: params.Expirer,
		now:     params.Now,
	}, nil
}

type expiredDepositsJob struct {
	logg    *logger.Logger
	store   deposits.Store
	expirer *Expirer
	now     func() time.Time
}

func (j *expiredDepositsJob) Name() string { return ExpiredDepositsJobName }

func (j *expiredDepositsJob) Run(ctx context.Context) error {
	all, err := j.store.ScanAll(ctx)
	if err != nil {
		return fmt.Errorf("scan deposits: %w", err)
	}
	now := j.now()

	var (
		errs       error
		candidates int
		expired    int
	)
	for i := range all {
		if !deposits.IsPastDeadline(&all[i], now) && !deposits.AwaitsFundsReturn(&all[i]) {
			continue
		}
		candidates++
		_, done, err := j.expirer.expire(ctx, all[i].ID, TriggerSweep)
		if err != nil {
			j.logg.Error(j.logg.WithDepositID(ctx, all[i].ID.String()), "expire deposit failed", err)
			errs = multierr.Append(errs, fmt.Errorf("deposit %s: %w", all[i].ID, err))
			continue
		}
		if done {
			expired++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"scanned":    len(all),
		"candidates": candidates,
		"expired":    expired,
		"failed":     len(multierr.Errors(errs)),
	}), "expired deposits sweep complete")
	return errs
}
