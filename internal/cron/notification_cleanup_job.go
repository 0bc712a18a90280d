package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/safetransit/pkg/logger"
)

const (
	NotificationCleanupJobName = "notification-cleanup"

	notificationRetention = 30 * 24 * time.Hour
)

type NotificationCleanupJobParams struct {
	Logger    *logger.Logger
	Archiver  notificationArchiver
	Retention time.Duration
	Now       func() time.Time
}

type notificationArchiver interface {
	Archive(ctx context.Context, cutoff time.Time) (int64, error)
}

func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Archiver == nil {
		return nil, fmt.Errorf("notification archiver required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = notificationRetention
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &notificationCleanupJob{
		logg:      params.Logger,
		archiver:  params.Archiver,
		retention: retention,
		now:       params.Now,
	}, nil
}

type notificationCleanupJob struct {
	logg      *logger.Logger
	archiver  notificationArchiver
	retention time.Duration
	now       func() time.Time
}

func (j *notificationCleanupJob) Name() string { return NotificationCleanupJobName }

func (j *notificationCleanupJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	archived, err := j.archiver.Archive(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("notification cleanup: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": int(j.retention.Hours() / 24),
		"rows_archived":  archived,
	})
	j.logg.Info(logCtx, "notification cleanup complete")
	return nil
}
