package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/metrics"
	"github.com/angelmondragon/safetransit/pkg/pagination"
)

// UnknownRecipient is recorded when the deposit creator has no email address.
const UnknownRecipient = "unknown@example.com"

// DefaultPacingDelay spaces out batch sends on live transports.
const DefaultPacingDelay = time.Second

// SendResult reports the final state of one send attempt.
type SendResult struct {
	Status enums.NotificationStatus   `json:"status"`
	Record *models.NotificationRecord `json:"notification"`
}

// ListParams paginates notification records across deposits.
type ListParams struct {
	DepositID *uuid.UUID
	Limit     int
	Offset    int
}

// ListResult is one newest-first page of notification records.
type ListResult struct {
	Notifications []models.NotificationRecord `json:"notifications"`
	pagination.Page
}

// DispatcherParams wires a Dispatcher. Transport defaults to the log sink.
type DispatcherParams struct {
	Repo        Repository
	Audit       audit.Service
	Transport   Transport
	Logger      *logger.Logger
	Metrics     *metrics.DepositMetrics
	PacingDelay time.Duration
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Dispatcher builds, delivers and records deposit notifications. Delivery
// failures are reported on the record; only persistence failures are returned.
type Dispatcher struct {
	repo      Repository
	audit     audit.Service
	transport Transport
	fallback  Transport
	logg      *logger.Logger
	metrics   *metrics.DepositMetrics
	pacing    time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher validates params and returns a dispatcher.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "audit service required")
	}
	fallback := NewLogTransport(params.Logger)
	if params.Transport == nil {
		params.Transport = fallback
	}
	if params.PacingDelay <= 0 {
		params.PacingDelay = DefaultPacingDelay
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.Sleep == nil {
		params.Sleep = sleepContext
	}
	return &Dispatcher{
		repo:      params.Repo,
		audit:     params.Audit,
		transport: params.Transport,
		fallback:  fallback,
		logg:      params.Logger,
		metrics:   params.Metrics,
		pacing:    params.PacingDelay,
		now:       params.Now,
		sleep:     params.Sleep,
	}, nil
}

// Live reports whether the configured transport reaches a real email service.
func (d *Dispatcher) Live() bool {
	return d.transport.Live()
}

// Send renders and delivers one notification to the deposit creator.
func (d *Dispatcher) Send(ctx context.Context, deposit *models.Deposit, kind enums.NotificationType) (SendResult, error) {
	if !kind.IsValid() {
		return SendResult{}, pkgerrors.InvalidInput(fmt.Sprintf("invalid notification type %q", kind))
	}
	now := d.now().UTC()
	content, err := Render(deposit, kind, now)
	if err != nil {
		return SendResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render notification")
	}

	transport, recipient := d.route(deposit)

	record := &models.NotificationRecord{
		ID:        uuid.New(),
		DepositID: deposit.ID,
		Type:      kind,
		Recipient: recipient,
		Subject:   content.Subject,
		Message:   content.Text,
		Channel:   transport.Name(),
		Status:    enums.NotificationStatusPending,
		Timestamp: now,
	}
	if err := d.repo.Create(ctx, record); err != nil {
		return SendResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create notification record")
	}

	ctx = d.ctxFor(ctx, deposit, kind)
	deliverErr := transport.Deliver(ctx, Message{To: recipient, Subject: content.Subject, Text: content.Text, HTML: content.HTML})
	if deliverErr != nil {
		msg := deliverErr.Error()
		record.Status = enums.NotificationStatusFailed
		record.Error = &msg
	} else {
		record.Status = enums.NotificationStatusSent
	}
	if err := d.repo.Finalize(ctx, record); err != nil {
		return SendResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalize notification record")
	}
	d.metrics.IncNotification(string(kind), string(record.Status))

	if deliverErr != nil {
		if d.logg != nil {
			d.logg.Error(ctx, "notification delivery failed", deliverErr)
		}
		return SendResult{Status: record.Status, Record: record}, nil
	}

	if _, err := d.audit.Record(ctx, audit.RecordInput{
		DepositID:             deposit.ID,
		Action:                enums.AuditActionNotificationSent,
		PreviousStatus:        deposit.Status,
		NewStatus:             deposit.Status,
		PreviousPaymentStatus: deposit.PaymentStatus,
		NewPaymentStatus:      deposit.PaymentStatus,
		Actor:                 audit.ActorSystem,
		Reason:                fmt.Sprintf("Automated %s notification sent", kind),
		Metadata: map[string]any{
			"notification_id":   record.ID.String(),
			"notification_type": string(kind),
			"recipient":         recipient,
			"channel":           record.Channel,
		},
	}); err != nil {
		return SendResult{Status: record.Status, Record: record}, err
	}
	if d.logg != nil {
		d.logg.Info(ctx, "notification sent")
	}
	return SendResult{Status: record.Status, Record: record}, nil
}

// Notify sends kind unless the deposit opted out of it.
func (d *Dispatcher) Notify(ctx context.Context, deposit *models.Deposit, kind enums.NotificationType) error {
	if !deposit.WantsNotification(kind.PreferenceKey()) {
		if d.logg != nil {
			d.logg.Debug(d.ctxFor(ctx, deposit, kind), "notification suppressed by preference")
		}
		return nil
	}
	_, err := d.Send(ctx, deposit, kind)
	return err
}

// route picks the transport and recipient for a deposit. Deposits without a
// creator address go to the fallback sink.
func (d *Dispatcher) route(deposit *models.Deposit) (Transport, string) {
	if deposit.CreatorEmail != nil && *deposit.CreatorEmail != "" {
		return d.transport, *deposit.CreatorEmail
	}
	return d.fallback, UnknownRecipient
}

// SendBatch sends kind to each deposit in order, pausing after each send that
// went out over a live transport. Persistence errors are combined and do not
// stop the batch.
func (d *Dispatcher) SendBatch(ctx context.Context, deposits []models.Deposit, kind enums.NotificationType) ([]SendResult, error) {
	results := make([]SendResult, 0, len(deposits))
	var (
		errs    error
		wasLive bool
	)
	for i := range deposits {
		transport, _ := d.route(&deposits[i])
		if wasLive {
			if err := d.sleep(ctx, d.pacing); err != nil {
				return results, multierr.Append(errs, err)
			}
		}
		wasLive = transport.Live()
		result, err := d.Send(ctx, &deposits[i], kind)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("deposit %s: %w", deposits[i].ID, err))
			continue
		}
		results = append(results, result)
	}
	return results, errs
}

// History returns a deposit's notifications, newest first.
func (d *Dispatcher) History(ctx context.Context, depositID uuid.UUID) ([]models.NotificationRecord, error) {
	records, err := d.repo.History(ctx, depositID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "notification history")
	}
	if records == nil {
		records = []models.NotificationRecord{}
	}
	return records, nil
}

// List pages through notifications across all deposits.
func (d *Dispatcher) List(ctx context.Context, params ListParams) (ListResult, error) {
	page := pagination.Params{Limit: params.Limit, Offset: params.Offset}.Normalize()
	records, total, err := d.repo.List(ctx, params.DepositID, page)
	if err != nil {
		return ListResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list notifications")
	}
	if records == nil {
		records = []models.NotificationRecord{}
	}
	return ListResult{
		Notifications: records,
		Page:          pagination.Page{Limit: page.Limit, Offset: page.Offset, Total: total},
	}, nil
}

// HasRecentNotification reports whether a sent notification of kind exists for
// the deposit within window of now.
func (d *Dispatcher) HasRecentNotification(ctx context.Context, depositID uuid.UUID, kind enums.NotificationType, window time.Duration) (bool, error) {
	since := d.now().UTC().Add(-window)
	ok, err := d.repo.HasSentSince(ctx, depositID, kind, since)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check recent notifications")
	}
	return ok, nil
}

// Archive logically removes records older than cutoff.
func (d *Dispatcher) Archive(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := d.repo.Archive(ctx, cutoff.UTC(), d.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archive notifications")
	}
	return count, nil
}

func (d *Dispatcher) ctxFor(ctx context.Context, deposit *models.Deposit, kind enums.NotificationType) context.Context {
	if d.logg == nil {
		return ctx
	}
	ctx = d.logg.WithDepositID(ctx, deposit.ID.String())
	return d.logg.WithField(ctx, "notification_type", string(kind))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
