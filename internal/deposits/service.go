package deposits

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/metrics"
	"github.com/angelmondragon/safetransit/pkg/pagination"
)

const recentDepositsInStats = 5

// Expirer applies the full expiry path (audit, refund, notification) to a
// deposit whose deadline has passed. It takes the deposit lock itself and
// returns the deposit as it stands afterwards.
type Expirer interface {
	ExpireIfDue(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
}

// Notifier sends a notification to the deposit parties, honouring preferences.
type Notifier interface {
	Notify(ctx context.Context, d *models.Deposit, kind enums.NotificationType) error
}

// Service exposes the deposit operations used by the API and admin surfaces.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Deposit, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	List(ctx context.Context, params ListParams) (ListResult, error)
	Fulfil(ctx context.Context, id uuid.UUID) (*models.Deposit, error)
	Override(ctx context.Context, input OverrideInput) (*models.Deposit, *models.AuditLog, error)
	Stats(ctx context.Context) (Stats, error)
	UpdatePreferences(ctx context.Context, id uuid.UUID, updates map[string]bool) (*models.Deposit, error)
	UpdateEmails(ctx context.Context, id uuid.UUID, creatorEmail, receiverEmail *string) (*models.Deposit, error)
}

// ServiceParams wires a deposit service. Expirer, Notifier and Metrics are optional.
type ServiceParams struct {
	Store    Store
	Locker   *Locker
	Audit    audit.Service
	Expirer  Expirer
	Notifier Notifier
	Metrics  *metrics.DepositMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// ListParams filters and paginates deposit listings.
type ListParams struct {
	Status        *enums.DepositStatus
	PaymentStatus *enums.PaymentStatus
	Limit         int
	Offset        int
}

// ListResult is one newest-first page of deposits.
type ListResult struct {
	Deposits []models.Deposit `json:"deposits"`
	pagination.Page
}

// OverrideInput is an admin change that bypasses the normal guards.
type OverrideInput struct {
	ID            uuid.UUID
	Status        *enums.DepositStatus
	PaymentStatus *enums.PaymentStatus
	AdminID       string
	Reason        string
	Metadata      map[string]any
}

// Stats summarises every deposit in the store.
type Stats struct {
	TotalDeposits       int                         `json:"total_deposits"`
	StatusCounts        map[enums.DepositStatus]int `json:"status_counts"`
	PaymentStatusCounts map[enums.PaymentStatus]int `json:"payment_status_counts"`
	TotalAmount         decimal.Decimal             `json:"total_amount"`
	RecentDeposits      []models.Deposit            `json:"recent_deposits"`
}

type service struct {
	store    Store
	locker   *Locker
	audit    audit.Service
	expirer  Expirer
	notifier Notifier
	metrics  *metrics.DepositMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService validates params and returns a deposit service.
func NewService(params ServiceParams) (Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("deposit store required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if params.Locker == nil {
		params.Locker = NewLocker()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		store:    params.Store,
		locker:   params.Locker,
		audit:    params.Audit,
		expirer:  params.Expirer,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      params.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Deposit, error) {
	d, err := NewDeposit(input, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, d); err != nil {
		return nil, storeError(err)
	}
	s.metrics.IncTransition("status", d.Status.String())
	if s.logg != nil {
		s.logg.Info(s.logg.WithDepositID(ctx, d.ID.String()), "deposit created")
	}
	return d, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	d, err := Load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if IsPastDeadline(d, s.now()) {
		return s.expire(ctx, id)
	}
	return d, nil
}

func (s *service) List(ctx context.Context, params ListParams) (ListResult, error) {
	all, err := s.store.ScanAll(ctx)
	if err != nil {
		return ListResult{}, storeError(err)
	}
	matched := make([]models.Deposit, 0, len(all))
	for _, d := range all {
		if params.Status != nil && d.Status != *params.Status {
			continue
		}
		if params.PaymentStatus != nil && d.PaymentStatus != *params.PaymentStatus {
			continue
		}
		matched = append(matched, d)
	}
	sortNewestFirst(matched)

	page := pagination.Params{Limit: params.Limit, Offset: params.Offset}.Normalize()
	start, end := page.Window(len(matched))
	return ListResult{
		Deposits: matched[start:end],
		Page:     pagination.Page{Limit: page.Limit, Offset: page.Offset, Total: int64(len(matched))},
	}, nil
}

func (s *service) Fulfil(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fulfilGuard(current); err != nil {
		return nil, err
	}

	before, after, err := Update(ctx, s.store, s.locker, id, func(d *models.Deposit) error {
		now := s.now()
		if IsPastDeadline(d, now) {
			return errDeadlinePassed
		}
		if err := fulfilGuard(d); err != nil {
			return err
		}
		return TransitionStatus(d, enums.DepositStatusFulfilled, now)
	})
	if err == errDeadlinePassed {
		expired, expErr := s.expire(ctx, id)
		if expErr != nil {
			return nil, expErr
		}
		return nil, fulfilGuard(expired)
	}
	if err != nil {
		return nil, err
	}
	ObserveTransition(s.metrics, before, after)

	ctx = s.ctxFor(ctx, after)
	if s.logg != nil {
		s.logg.Info(ctx, "deposit fulfilled")
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, after, enums.NotificationTypeFulfilled); err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "fulfilment notification not recorded")
		}
	}
	return after, nil
}

func (s *service) Override(ctx context.Context, input OverrideInput) (*models.Deposit, *models.AuditLog, error) {
	adminID := strings.TrimSpace(input.AdminID)
	reason := strings.TrimSpace(input.Reason)
	if adminID == "" || reason == "" {
		return nil, nil, pkgerrors.InvalidInput("admin_id and reason are required")
	}
	if adminID == audit.ActorSystem {
		return nil, nil, pkgerrors.InvalidInput("admin_id is reserved")
	}
	if input.Status == nil && input.PaymentStatus == nil {
		return nil, nil, pkgerrors.InvalidInput("status or payment_status is required")
	}

	action := enums.AuditActionStatusOverride
	if input.Status == nil {
		action = enums.AuditActionPaymentStatusOverride
	}

	unlock := s.locker.Lock(input.ID)
	defer unlock()

	before, after, err := UpdateLocked(ctx, s.store, input.ID, func(d *models.Deposit) error {
		now := s.now()
		if input.Status != nil && *input.Status != d.Status {
			if err := TransitionStatus(d, *input.Status, now); err != nil {
				return err
			}
		}
		if input.PaymentStatus != nil && *input.PaymentStatus != d.PaymentStatus {
			if err := TransitionPaymentStatus(d, *input.PaymentStatus, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	entry, err := s.audit.Record(ctx, audit.Transition(action, before, after, adminID, reason, input.Metadata))
	if err != nil {
		return nil, nil, err
	}
	ObserveTransition(s.metrics, before, after)
	if s.logg != nil {
		ctx = s.logg.WithActor(s.ctxFor(ctx, after), adminID)
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"action":         string(action),
			"status":         after.Status.String(),
			"payment_status": after.PaymentStatus.String(),
		}), "deposit overridden")
	}
	return after, entry, nil
}

func (s *service) Stats(ctx context.Context) (Stats, error) {
	all, err := s.store.ScanAll(ctx)
	if err != nil {
		return Stats{}, storeError(err)
	}
	stats := Stats{
		TotalDeposits:       len(all),
		StatusCounts:        make(map[enums.DepositStatus]int),
		PaymentStatusCounts: make(map[enums.PaymentStatus]int),
		TotalAmount:         decimal.Zero,
	}
	for _, d := range all {
		stats.StatusCounts[d.Status]++
		stats.PaymentStatusCounts[d.PaymentStatus]++
		stats.TotalAmount = stats.TotalAmount.Add(d.Amount)
	}
	sortNewestFirst(all)
	if len(all) > recentDepositsInStats {
		all = all[:recentDepositsInStats]
	}
	stats.RecentDeposits = all
	return stats, nil
}

func (s *service) UpdatePreferences(ctx context.Context, id uuid.UUID, updates map[string]bool) (*models.Deposit, error) {
	if len(updates) == 0 {
		return nil, pkgerrors.InvalidInput("notification_preferences is required")
	}
	_, after, err := Update(ctx, s.store, s.locker, id, func(d *models.Deposit) error {
		merged, err := MergePreferences(d.NotificationPreferences, updates)
		if err != nil {
			return err
		}
		d.NotificationPreferences = merged
		touch(d, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return after, nil
}

func (s *service) UpdateEmails(ctx context.Context, id uuid.UUID, creatorEmail, receiverEmail *string) (*models.Deposit, error) {
	creator, err := normalizeEmail("creator_email", creatorEmail)
	if err != nil {
		return nil, err
	}
	receiver, err := normalizeEmail("receiver_email", receiverEmail)
	if err != nil {
		return nil, err
	}
	_, after, err := Update(ctx, s.store, s.locker, id, func(d *models.Deposit) error {
		d.CreatorEmail = creator
		d.ReceiverEmail = receiver
		touch(d, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return after, nil
}

var errDeadlinePassed = pkgerrors.InvalidState("deposit deadline has passed")

func fulfilGuard(d *models.Deposit) error {
	switch d.Status {
	case enums.DepositStatusExpired:
		return pkgerrors.InvalidState("cannot fulfill: deposit has expired").WithDetails(map[string]any{"status": d.Status.String()})
	case enums.DepositStatusFulfilled:
		return pkgerrors.InvalidState("deposit already fulfilled").WithDetails(map[string]any{"status": d.Status.String()})
	case enums.DepositStatusCancelled:
		return pkgerrors.InvalidState("cannot fulfill: deposit is cancelled").WithDetails(map[string]any{"status": d.Status.String()})
	}
	return nil
}

// expire runs the configured expirer, or a bare status change with an audit
// entry when none is wired.
func (s *service) expire(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	if s.expirer != nil {
		return s.expirer.ExpireIfDue(ctx, id)
	}
	unlock := s.locker.Lock(id)
	defer unlock()
	before, after, err := UpdateLocked(ctx, s.store, id, func(d *models.Deposit) error {
		now := s.now()
		if !IsPastDeadline(d, now) {
			return errNotDue
		}
		return TransitionStatus(d, enums.DepositStatusExpired, now)
	})
	if err == errNotDue {
		return before, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.audit.Record(ctx, audit.Transition(enums.AuditActionAutoExpire, before, after, audit.ActorSystem, "", map[string]any{"trigger": "lazy"})); err != nil {
		return nil, err
	}
	ObserveTransition(s.metrics, before, after)
	return after, nil
}

var errNotDue = pkgerrors.InvalidState("deposit is not past its deadline")

func (s *service) ctxFor(ctx context.Context, d *models.Deposit) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithDepositID(ctx, d.ID.String())
}

func sortNewestFirst(list []models.Deposit) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
