package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/internal/notifications"
	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	"github.com/angelmondragon/safetransit/pkg/logger"
)

const (
	ExpiringSoonJobName = "expiring-soon"

	defaultExpiringSoonWindow = time.Hour
	defaultSuppressionWindow  = 2 * time.Hour
)

type reminderSender interface {
	HasRecentNotification(ctx context.Context, depositID uuid.UUID, kind enums.NotificationType, window time.Duration) (bool, error)
	SendBatch(ctx context.Context, deposits []models.Deposit, kind enums.NotificationType) ([]notifications.SendResult, error)
}

type ExpiringSoonJobParams struct {
	Logger      *logger.Logger
	Store       deposits.Store
	Sender      reminderSender
	Window      time.Duration
	Suppression time.Duration
	Now         func() time.Time
}

// NewExpiringSoonJob builds the sweep that reminds creators of deposits about
// to pass their deadline.
func NewExpiringSoonJob(params ExpiringSoonJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("deposit store required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("notification sender required")
	}
	if params.Window <= 0 {
		params.Window = defaultExpiringSoonWindow
	}
	if params.Suppression <= 0 {
		params.Suppression = defaultSuppressionWindow
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &expiringSoonJob{
		logg:        params.Logger,
		store:       params.Store,
		sender:      params.Sender,
		window:      params.Window,
		suppression: params.Suppression,
		now:         params.Now,
	}, nil
}

type expiringSoonJob struct {
	logg        *logger.Logger
	store       deposits.Store
	sender      reminderSender
	window      time.Duration
	suppression time.Duration
	now         func() time.Time
}

func (j *expiringSoonJob) Name() string { return ExpiringSoonJobName }

func (j *expiringSoonJob) Run(ctx context.Context) error {
	all, err := j.store.ScanAll(ctx)
	if err != nil {
		return fmt.Errorf("scan deposits: %w", err)
	}
	now := j.now()
	horizon := now.Add(j.window)
	key := enums.NotificationTypeExpiringSoon.PreferenceKey()

	var errs error
	due := make([]models.Deposit, 0)
	for _, d := range all {
		if d.Status != enums.DepositStatusCreated {
			continue
		}
		if !d.TimeLimit.After(now) || d.TimeLimit.After(horizon) {
			continue
		}
		if !d.WantsNotification(key) {
			continue
		}
		recent, err := j.sender.HasRecentNotification(ctx, d.ID, enums.NotificationTypeExpiringSoon, j.suppression)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("deposit %s: %w", d.ID, err))
			continue
		}
		if recent {
			continue
		}
		due = append(due, d)
	}

	sent := 0
	if len(due) > 0 {
		results, err := j.sender.SendBatch(ctx, due, enums.NotificationTypeExpiringSoon)
		errs = multierr.Append(errs, err)
		for _, result := range results {
			if result.Status == enums.NotificationStatusSent {
				sent++
			}
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(due),
		"sent":       sent,
	}), "expiring soon sweep complete")
	return errs
}
