package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
	"github.com/angelmondragon/safetransit/pkg/logger"
	"github.com/angelmondragon/safetransit/pkg/metrics"
)

// Refund methods recorded in audit metadata.
const (
	RefundMethodVoid   = "void"
	RefundMethodRefund = "refund"
	RefundMethodDirect = "direct"
)

var errStaleEvent = errors.New("stale payment event")

// Actor identifies who asked for a payment operation. Non-system actors get an
// audit entry and must give a reason.
type Actor struct {
	ID       string
	Reason   string
	Metadata map[string]any
}

// SystemActor is used for API and scheduler initiated operations.
var SystemActor = Actor{ID: audit.ActorSystem}

func (a Actor) isAdmin() bool {
	id := strings.TrimSpace(a.ID)
	return id != "" && id != audit.ActorSystem
}

func (a Actor) validate() error {
	if a.isAdmin() && strings.TrimSpace(a.Reason) == "" {
		return pkgerrors.InvalidInput("reason is required for admin payment operations")
	}
	return nil
}

// RefundResult describes one refund attempt. GatewayErr is set when the
// gateway rejected the call and the deposit moved to refund_failed.
type RefundResult struct {
	Before     *models.Deposit
	After      *models.Deposit
	Method     string
	GatewayErr error
}

// OrchestratorParams wires an Orchestrator.
type OrchestratorParams struct {
	Store    deposits.Store
	Locker   *deposits.Locker
	Gateway  Gateway
	Audit    audit.Service
	Notifier deposits.Notifier
	Metrics  *metrics.DepositMetrics
	Logger   *logger.Logger
	Currency string
	Now      func() time.Time
}

// Orchestrator moves deposit payment_status through the gateway hold lifecycle.
type Orchestrator struct {
	store    deposits.Store
	locker   *deposits.Locker
	gateway  Gateway
	audit    audit.Service
	notifier deposits.Notifier
	metrics  *metrics.DepositMetrics
	logg     *logger.Logger
	currency string
	now      func() time.Time
}

// NewOrchestrator validates params and returns an orchestrator.
func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("deposit store required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
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
	if params.Currency == "" {
		params.Currency = "usd"
	}
	return &Orchestrator{
		store:    params.Store,
		locker:   params.Locker,
		gateway:  params.Gateway,
		audit:    params.Audit,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		logg:     params.Logger,
		currency: params.Currency,
		now:      params.Now,
	}, nil
}

// GatewayName reports the configured gateway profile.
func (o *Orchestrator) GatewayName() string { return o.gateway.Name() }

// InitiateHold authorizes the deposit amount with the gateway.
func (o *Orchestrator) InitiateHold(ctx context.Context, id uuid.UUID) (*models.Deposit, error) {
	unlock := o.locker.Lock(id)
	defer unlock()

	current, err := deposits.Load(ctx, o.store, id)
	if err != nil {
		return nil, err
	}
	if current.PaymentStatus != enums.PaymentStatusPending {
		return nil, pkgerrors.InvalidState("deposit payment has already been processed")
	}
	if current.Status.IsTerminal() {
		return nil, pkgerrors.InvalidState(fmt.Sprintf("cannot initiate a hold on a %s deposit", current.Status))
	}

	ref, err := o.gateway.InitiateHold(ctx, HoldRequest{
		DepositID:   current.ID,
		Amount:      current.Amount,
		Currency:    o.currency,
		Description: "Safe Transit deposit " + current.ID.String(),
	})
	if err != nil {
		o.logError(ctx, current.ID, "initiate hold failed", err)
		return nil, pkgerrors.PaymentGateway(o.gateway.Name(), err)
	}

	before, after, err := deposits.UpdateLocked(ctx, o.store, id, func(d *models.Deposit) error {
		if d.PaymentStatus != enums.PaymentStatusPending {
			return pkgerrors.InvalidState("deposit payment has already been processed")
		}
		now := o.now()
		if err := deposits.TransitionPaymentStatus(d, enums.PaymentStatusProcessing, now); err != nil {
			return err
		}
		if err := deposits.TransitionStatus(d, enums.DepositStatusPendingPayment, now); err != nil {
			return err
		}
		d.ExternalPaymentRef = &ref
		return nil
	})
	if err != nil {
		if cancelErr := o.gateway.Cancel(ctx, ref); cancelErr != nil {
			o.logError(ctx, id, "release orphaned hold failed", cancelErr)
		}
		return nil, err
	}
	o.observe(ctx, before, after, "payment hold initiated")
	return after, nil
}

// Capture takes the held funds. On the local profile a processing hold is
// confirmed instead, since no gateway event will arrive for it.
func (o *Orchestrator) Capture(ctx context.Context, id uuid.UUID, actor Actor) (*models.Deposit, *models.AuditLog, error) {
	if err := actor.validate(); err != nil {
		return nil, nil, err
	}
	unlock := o.locker.Lock(id)
	defer unlock()

	current, err := deposits.Load(ctx, o.store, id)
	if err != nil {
		return nil, nil, err
	}

	if current.PaymentStatus == enums.PaymentStatusProcessing && o.gateway.Name() == config.PaymentGatewayLocal {
		return o.commit(ctx, id, enums.AuditActionManualCapture, actor, "payment hold confirmed", func(d *models.Deposit) error {
			return o.confirmHold(d)
		})
	}

	if current.PaymentStatus != enums.PaymentStatusCompleted {
		return nil, nil, pkgerrors.InvalidState(fmt.Sprintf("cannot capture: payment is %s", current.PaymentStatus))
	}
	if ref := paymentRef(current); ref != "" {
		if err := o.gateway.Capture(ctx, ref); err != nil {
			o.logError(ctx, id, "capture failed", err)
			return nil, nil, pkgerrors.PaymentGateway(o.gateway.Name(), err)
		}
	}
	return o.commit(ctx, id, enums.AuditActionManualCapture, actor, "payment captured", func(d *models.Deposit) error {
		if d.PaymentStatus != enums.PaymentStatusCompleted {
			return pkgerrors.InvalidState(fmt.Sprintf("cannot capture: payment is %s", d.PaymentStatus))
		}
		return deposits.TransitionPaymentStatus(d, enums.PaymentStatusCaptured, o.now())
	})
}

// CancelHold releases an uncaptured hold and cancels the deposit when it was
// waiting on or backed by that hold.
func (o *Orchestrator) CancelHold(ctx context.Context, id uuid.UUID, actor Actor) (*models.Deposit, *models.AuditLog, error) {
	if err := actor.validate(); err != nil {
		return nil, nil, err
	}
	unlock := o.locker.Lock(id)
	defer unlock()

	current, err := deposits.Load(ctx, o.store, id)
	if err != nil {
		return nil, nil, err
	}
	if !cancellable(current.PaymentStatus) {
		return nil, nil, pkgerrors.InvalidState(fmt.Sprintf("cannot cancel hold: payment is %s", current.PaymentStatus))
	}
	if ref := paymentRef(current); ref != "" {
		if err := o.gateway.Cancel(ctx, ref); err != nil {
			o.logError(ctx, id, "cancel hold failed", err)
			return nil, nil, pkgerrors.PaymentGateway(o.gateway.Name(), err)
		}
	}
	return o.commit(ctx, id, enums.AuditActionManualCancellation, actor, "payment hold cancelled", func(d *models.Deposit) error {
		if !cancellable(d.PaymentStatus) {
			return pkgerrors.InvalidState(fmt.Sprintf("cannot cancel hold: payment is %s", d.PaymentStatus))
		}
		return o.cancelDeposit(d, enums.PaymentStatusCancelled)
	})
}

// Refund returns held or captured funds to the payer. A gateway rejection is
// recorded as refund_failed rather than returned.
func (o *Orchestrator) Refund(ctx context.Context, id uuid.UUID, actor Actor) (*models.Deposit, *models.AuditLog, error) {
	if err := actor.validate(); err != nil {
		return nil, nil, err
	}
	unlock := o.locker.Lock(id)
	defer unlock()

	result, err := o.RefundLocked(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entry, err := o.recordAdmin(ctx, enums.AuditActionAdminIntervention, actor, result.Before, result.After, refundMetadata(result))
	if err != nil {
		return nil, nil, err
	}
	return result.After, entry, nil
}

// RefundLocked is Refund for callers already holding the deposit lock. It does
// not write audit entries.
func (o *Orchestrator) RefundLocked(ctx context.Context, id uuid.UUID) (RefundResult, error) {
	current, err := deposits.Load(ctx, o.store, id)
	if err != nil {
		return RefundResult{}, err
	}
	if !current.PaymentStatus.HoldsFunds() {
		return RefundResult{}, pkgerrors.InvalidState(fmt.Sprintf("cannot refund: payment is %s", current.PaymentStatus))
	}

	method, gatewayErr := o.returnFunds(ctx, current)
	target := enums.PaymentStatusRefunded
	if gatewayErr != nil {
		target = enums.PaymentStatusRefundFailed
		o.logError(ctx, id, "refund failed", gatewayErr)
	}

	from := current.PaymentStatus
	before, after, err := deposits.UpdateLocked(ctx, o.store, id, func(d *models.Deposit) error {
		if d.PaymentStatus != from {
			return pkgerrors.InvalidState(fmt.Sprintf("cannot refund: payment moved to %s", d.PaymentStatus))
		}
		return deposits.TransitionPaymentStatus(d, target, o.now())
	})
	if err != nil {
		return RefundResult{}, err
	}
	o.observe(ctx, before, after, "payment refund processed")
	return RefundResult{Before: before, After: after, Method: method, GatewayErr: gatewayErr}, nil
}

// Restitute is the admin remedy: held or captured funds go back to the payer,
// a pending hold is voided and a live deposit is cancelled. A deposit stuck in
// refund_failed gets its refund retried.
func (o *Orchestrator) Restitute(ctx context.Context, id uuid.UUID, adminID, reason string) (*models.Deposit, *models.AuditLog, error) {
	adminID = strings.TrimSpace(adminID)
	reason = strings.TrimSpace(reason)
	if adminID == "" || reason == "" {
		return nil, nil, pkgerrors.InvalidInput("admin_id and reason are required")
	}
	if adminID == audit.ActorSystem {
		return nil, nil, pkgerrors.InvalidInput("admin_id is reserved")
	}

	unlock := o.locker.Lock(id)
	defer unlock()

	current, err := deposits.Load(ctx, o.store, id)
	if err != nil {
		return nil, nil, err
	}

	from := current.PaymentStatus
	target := from
	metadata := map[string]any{"gateway": o.gateway.Name()}
	switch from {
	case enums.PaymentStatusCompleted, enums.PaymentStatusCaptured, enums.PaymentStatusRefundFailed:
		method, gatewayErr := o.returnFunds(ctx, current)
		metadata["refund_method"] = method
		target = enums.PaymentStatusRefunded
		if gatewayErr != nil {
			target = enums.PaymentStatusRefundFailed
			metadata["gateway_error"] = gatewayErr.Error()
			o.logError(ctx, id, "restitution refund failed", gatewayErr)
		}
	case enums.PaymentStatusProcessing:
		if ref := paymentRef(current); ref != "" {
			if err := o.gateway.Cancel(ctx, ref); err != nil {
				o.logError(ctx, id, "restitution cancel failed", err)
				return nil, nil, pkgerrors.PaymentGateway(o.gateway.Name(), err)
			}
		}
		target = enums.PaymentStatusCancelled
	case enums.PaymentStatusPending:
		target = enums.PaymentStatusCancelled
	}

	before, after, err := deposits.UpdateLocked(ctx, o.store, id, func(d *models.Deposit) error {
		if d.PaymentStatus != from {
			return pkgerrors.InvalidState(fmt.Sprintf("cannot restitute: payment moved to %s", d.PaymentStatus))
		}
		return o.cancelDeposit(d, target)
	})
	if err != nil {
		return nil, nil, err
	}
	entry, err := o.audit.Record(ctx, audit.Transition(enums.AuditActionManualRestitution, before, after, adminID, reason, metadata))
	if err != nil {
		return nil, nil, err
	}
	o.observe(ctx, before, after, "manual restitution completed")
	return after, entry, nil
}

// HandleEvent applies an asynchronous gateway event. Events for unknown
// deposits or whose precondition no longer holds are logged and dropped.
func (o *Orchestrator) HandleEvent(ctx context.Context, event Event) error {
	if !event.Type.IsValid() {
		return pkgerrors.InvalidInput(fmt.Sprintf("invalid payment event type %q", event.Type))
	}
	ctx = o.ctxFor(ctx, event.DepositID)
	if o.logg != nil {
		ctx = o.logg.WithField(ctx, "payment_event", string(event.Type))
	}

	unlock := o.locker.Lock(event.DepositID)
	defer unlock()

	before, after, err := deposits.UpdateLocked(ctx, o.store, event.DepositID, func(d *models.Deposit) error {
		if event.PaymentRef != "" && d.ExternalPaymentRef != nil && *d.ExternalPaymentRef != event.PaymentRef {
			return errStaleEvent
		}
		return o.applyEvent(d, event.Type)
	})
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		o.warn(ctx, "payment event for unknown deposit dropped")
		return nil
	case errors.Is(err, errStaleEvent):
		o.warn(ctx, "stale payment event ignored")
		return nil
	case err != nil:
		return err
	}
	o.observe(ctx, before, after, "payment event applied")

	if event.Type == EventHoldSucceeded && after.Status.IsTerminal() {
		return o.voidLateHold(ctx, after.ID)
	}
	if event.Type == EventHoldFailed && o.notifier != nil {
		if err := o.notifier.Notify(ctx, after, enums.NotificationTypePaymentFailed); err != nil && o.logg != nil {
			o.logg.Error(ctx, "payment failed notification", err)
		}
	}
	return nil
}

func (o *Orchestrator) applyEvent(d *models.Deposit, kind EventType) error {
	now := o.now()
	switch kind {
	case EventHoldSucceeded:
		if d.PaymentStatus != enums.PaymentStatusProcessing {
			return errStaleEvent
		}
		if d.Status.IsTerminal() {
			// the hold landed after the deposit closed; HandleEvent voids it
			return deposits.TransitionPaymentStatus(d, enums.PaymentStatusCompleted, now)
		}
		return o.confirmHold(d)
	case EventHoldFailed:
		if d.PaymentStatus != enums.PaymentStatusProcessing {
			return errStaleEvent
		}
		if err := deposits.TransitionPaymentStatus(d, enums.PaymentStatusFailed, now); err != nil {
			return err
		}
		if !d.Status.IsTerminal() {
			return deposits.TransitionStatus(d, enums.DepositStatusCancelled, now)
		}
		return nil
	case EventHoldCancelled:
		if !cancellable(d.PaymentStatus) {
			return errStaleEvent
		}
		return o.cancelDeposit(d, enums.PaymentStatusCancelled)
	case EventCaptureSucceeded:
		if d.PaymentStatus != enums.PaymentStatusCompleted {
			return errStaleEvent
		}
		return deposits.TransitionPaymentStatus(d, enums.PaymentStatusCaptured, now)
	}
	return errStaleEvent
}

// voidLateHold returns a hold confirmed after its deposit was closed. The
// caller holds the deposit lock. An expired deposit left holding funds is
// picked up again by the expiry sweep.
func (o *Orchestrator) voidLateHold(ctx context.Context, id uuid.UUID) error {
	result, err := o.RefundLocked(ctx, id)
	if err != nil {
		o.logError(ctx, id, "void late hold failed", err)
		return err
	}
	metadata := refundMetadata(result)
	metadata["trigger"] = "late_hold"
	reason := "Payment hold confirmed after the deposit closed was voided"
	if result.GatewayErr != nil {
		reason = "Voiding a payment hold confirmed after the deposit closed failed"
	}
	_, err = o.audit.Record(ctx, audit.Transition(enums.AuditActionAutoRefund, result.Before, result.After, audit.ActorSystem, reason, metadata))
	return err
}

func (o *Orchestrator) confirmHold(d *models.Deposit) error {
	if d.PaymentStatus != enums.PaymentStatusProcessing {
		return pkgerrors.InvalidState("payment must be in processing status before capturing")
	}
	now := o.now()
	if err := deposits.TransitionPaymentStatus(d, enums.PaymentStatusCompleted, now); err != nil {
		return err
	}
	if d.Status == enums.DepositStatusPendingPayment || d.Status == enums.DepositStatusCreated {
		return deposits.TransitionStatus(d, enums.DepositStatusActive, now)
	}
	return nil
}

// cancelDeposit sets the payment status and cancels a deposit that was waiting
// on or backed by the payment.
func (o *Orchestrator) cancelDeposit(d *models.Deposit, payment enums.PaymentStatus) error {
	now := o.now()
	if d.PaymentStatus != payment {
		if err := deposits.TransitionPaymentStatus(d, payment, now); err != nil {
			return err
		}
	}
	if d.Status == enums.DepositStatusPendingPayment || d.Status == enums.DepositStatusActive {
		return deposits.TransitionStatus(d, enums.DepositStatusCancelled, now)
	}
	return nil
}

// returnFunds voids an uncaptured hold or refunds a captured payment.
func (o *Orchestrator) returnFunds(ctx context.Context, d *models.Deposit) (string, error) {
	ref := paymentRef(d)
	if ref == "" {
		return RefundMethodDirect, nil
	}
	if d.PaymentStatus == enums.PaymentStatusCompleted {
		return RefundMethodVoid, o.gateway.Cancel(ctx, ref)
	}
	return RefundMethodRefund, o.gateway.Refund(ctx, ref)
}

func (o *Orchestrator) commit(ctx context.Context, id uuid.UUID, action enums.AuditAction, actor Actor, msg string, fn deposits.Mutation) (*models.Deposit, *models.AuditLog, error) {
	before, after, err := deposits.UpdateLocked(ctx, o.store, id, fn)
	if err != nil {
		return nil, nil, err
	}
	entry, err := o.recordAdmin(ctx, action, actor, before, after, map[string]any{"gateway": o.gateway.Name()})
	if err != nil {
		return nil, nil, err
	}
	o.observe(ctx, before, after, msg)
	return after, entry, nil
}

func (o *Orchestrator) recordAdmin(ctx context.Context, action enums.AuditAction, actor Actor, before, after *models.Deposit, metadata map[string]any) (*models.AuditLog, error) {
	if !actor.isAdmin() {
		return nil, nil
	}
	for k, v := range actor.Metadata {
		if _, ok := metadata[k]; !ok {
			metadata[k] = v
		}
	}
	return o.audit.Record(ctx, audit.Transition(action, before, after, strings.TrimSpace(actor.ID), actor.Reason, metadata))
}

func (o *Orchestrator) observe(ctx context.Context, before, after *models.Deposit, msg string) {
	deposits.ObserveTransition(o.metrics, before, after)
	if o.logg == nil {
		return
	}
	ctx = o.logg.WithFields(o.ctxFor(ctx, after.ID), map[string]any{
		"status":         after.Status.String(),
		"payment_status": after.PaymentStatus.String(),
		"gateway":        o.gateway.Name(),
	})
	o.logg.Info(ctx, msg)
}

func (o *Orchestrator) logError(ctx context.Context, id uuid.UUID, msg string, err error) {
	if o.logg == nil {
		return
	}
	o.logg.Error(o.ctxFor(ctx, id), msg, err)
}

func (o *Orchestrator) warn(ctx context.Context, msg string) {
	if o.logg != nil {
		o.logg.Warn(ctx, msg)
	}
}

func (o *Orchestrator) ctxFor(ctx context.Context, id uuid.UUID) context.Context {
	if o.logg == nil {
		return ctx
	}
	return o.logg.WithDepositID(ctx, id.String())
}

func refundMetadata(result RefundResult) map[string]any {
	metadata := map[string]any{"refund_method": result.Method}
	if result.GatewayErr != nil {
		metadata["gateway_error"] = result.GatewayErr.Error()
	}
	return metadata
}

func cancellable(status enums.PaymentStatus) bool {
	return status == enums.PaymentStatusProcessing || status == enums.PaymentStatusCompleted
}

func paymentRef(d *models.Deposit) string {
	if d.ExternalPaymentRef == nil {
		return ""
	}
	return strings.TrimSpace(*d.ExternalPaymentRef)
}
