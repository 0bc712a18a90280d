package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/safetransit/internal/audit"
	"github.com/angelmondragon/safetransit/internal/deposits"
	"github.com/angelmondragon/safetransit/pkg/config"
	"github.com/angelmondragon/safetransit/pkg/db/models"
	"github.com/angelmondragon/safetransit/pkg/enums"
	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
)

type fakeGateway struct {
	mu         sync.Mutex
	name       string
	holdErr    error
	captureErr error
	cancelErr  error
	refundErr  error
	calls      []string
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) Name() string {
	if g.name == "" {
		return config.PaymentGatewayStripe
	}
	return g.name
}

func (g *fakeGateway) InitiateHold(ctx context.Context, req HoldRequest) (string, error) {
	g.record("hold")
	if g.holdErr != nil {
		return "", g.holdErr
	}
	return "pi_" + req.DepositID.String()[:8], nil
}

func (g *fakeGateway) Capture(ctx context.Context, ref string) error {
	g.record("capture:" + ref)
	return g.captureErr
}

func (g *fakeGateway) Cancel(ctx context.Context, ref string) error {
	g.record("cancel:" + ref)
	return g.cancelErr
}

func (g *fakeGateway) Refund(ctx context.Context, ref string) error {
	g.record("refund:" + ref)
	return g.refundErr
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []enums.NotificationType
}

func (n *fakeNotifier) Notify(ctx context.Context, d *models.Deposit, kind enums.NotificationType) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, kind)
	return nil
}

type orchestratorFixture struct {
	orch     *Orchestrator
	store    *deposits.MemoryStore
	gateway  *fakeGateway
	auditSvc audit.Service
	notifier *fakeNotifier
	now      time.Time
}

func newOrchestratorFixture(t *testing.T, gateway *fakeGateway) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		store:    deposits.NewMemoryStore(),
		gateway:  gateway,
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	auditSvc, err := audit.NewServiceWithClock(audit.NewMemoryRepository(), clock)
	require.NoError(t, err)
	f.auditSvc = auditSvc
	orch, err := NewOrchestrator(OrchestratorParams{
		Store:    f.store,
		Gateway:  gateway,
		Audit:    auditSvc,
		Notifier: f.notifier,
		Now:      clock,
	})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *orchestratorFixture) seed(t *testing.T, status enums.DepositStatus, payment enums.PaymentStatus, ref string) *models.Deposit {
	t.Helper()
	d := &models.Deposit{
		ID:            uuid.New(),
		Amount:        decimal.RequireFromString("250.00"),
		Requirement:   "deliver the documents",
		TimeLimit:     f.now.Add(24 * time.Hour),
		CreatorID:     "creator-1",
		ReceiverID:    "receiver-1",
		Status:        status,
		PaymentStatus: payment,
		CreatedAt:     f.now.Add(-time.Hour),
		UpdatedAt:     f.now.Add(-time.Hour),
	}
	if ref != "" {
		d.ExternalPaymentRef = &ref
	}
	require.NoError(t, f.store.Put(context.Background(), d))
	return d
}

func (f *orchestratorFixture) get(t *testing.T, id uuid.UUID) *models.Deposit {
	t.Helper()
	d, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return d
}

func (f *orchestratorFixture) entries(t *testing.T, id uuid.UUID) []models.AuditLog {
	t.Helper()
	result, err := f.auditSvc.Query(context.Background(), audit.QueryParams{DepositID: &id})
	require.NoError(t, err)
	return result.Entries
}

func TestInitiateHold(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	d := f.seed(t, enums.DepositStatusCreated, enums.PaymentStatusPending, "")

	got, err := f.orch.InitiateHold(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusProcessing, got.PaymentStatus)
	assert.Equal(t, enums.DepositStatusPendingPayment, got.Status)
	require.NotNil(t, got.ExternalPaymentRef)
	assert.Equal(t, "pi_"+d.ID.String()[:8], *got.ExternalPaymentRef)

	_, err = f.orch.InitiateHold(context.Background(), d.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Len(t, f.gateway.calls, 1, "second hold must not reach the gateway")
}

func TestInitiateHoldGatewayFailureLeavesDepositUnchanged(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{holdErr: errors.New("card declined")})
	d := f.seed(t, enums.DepositStatusCreated, enums.PaymentStatusPending, "")

	_, err := f.orch.InitiateHold(context.Background(), d.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, config.PaymentGatewayStripe, details["gateway"])

	stored := f.get(t, d.ID)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
	assert.Equal(t, enums.DepositStatusCreated, stored.Status)
	assert.Nil(t, stored.ExternalPaymentRef)
	assert.Equal(t, d.UpdatedAt, stored.UpdatedAt)
}

func TestInitiateHoldUnknownDeposit(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	_, err := f.orch.InitiateHold(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCapture(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	d := f.seed(t, enums.DepositStatusActive, enums.PaymentStatusCompleted, "pi_1")

	got, entry, err := f.orch.Capture(context.Background(), d.ID, SystemActor)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, enums.PaymentStatusCaptured, got.PaymentStatus)
	assert.Equal(t, []string{"capture:pi_1"}, f.gateway.calls)
	assert.Empty(t, f.entries(t, d.ID))

	_, _, err = f.orch.Capture(context.Background(), d.ID, SystemActor)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCaptureByAdminWritesEntry(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	d := f.seed(t, enums.DepositStatusActive, enums.PaymentStatusCompleted, "pi_1")

	_, _, err := f.orch.Capture(context.Background(), d.ID, Actor{ID: "admin-7"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "admin actions need a reason")

	_, entry, err := f.orch.Capture(context.Background(), d.ID, Actor{ID: "admin-7", Reason: "seller confirmed"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, enums.AuditActionManualCapture, entry.Action)
	assert.Equal(t, enums.PaymentStatusCompleted, entry.PreviousPaymentStatus)
	assert.Equal(t, enums.PaymentStatusCaptured, entry.NewPaymentStatus)
	assert.Len(t, f.entries(t, d.ID), 1)
}

func TestCaptureGatewayFailure(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{captureErr: errors.New("timeout")})
	d := f.seed(t, enums.DepositStatusActive, enums.PaymentStatusCompleted, "pi_1")

	_, _, err := f.orch.Capture(context.Background(), d.ID, SystemActor)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, enums.PaymentStatusCompleted, f.get(t, d.ID).PaymentStatus)
}

func TestLocalProfileCaptureConfirmsHold(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{name: config.PaymentGatewayLocal})
	d := f.seed(t, enums.DepositStatusPendingPayment, enums.PaymentStatusProcessing, "pay_1")

	got, _, err := f.orch.Capture(context.Background(), d.ID, SystemActor)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, got.PaymentStatus)
	assert.Equal(t, enums.DepositStatusActive, got.Status)
	assert.Empty(t, f.gateway.calls)
}

func TestCancelHold(t *testing.T) {
	tests := []struct {
		name        string
		status      enums.DepositStatus
		payment     enums.PaymentStatus
		wantStatus  enums.DepositStatus
		wantErrCode pkgerrors.Code
	}{
		{name: "processing hold", status: enums.DepositStatusPendingPayment, payment: enums.PaymentStatusProcessing, wantStatus: enums.DepositStatusCancelled},
		{name: "completed hold", status: enums.DepositStatusActive, payment: enums.PaymentStatusCompleted, wantStatus: enums.DepositStatusCancelled},
		{name: "fulfilled keeps status", status: enums.DepositStatusFulfilled, payment: enums.PaymentStatusCompleted, wantStatus: enums.DepositStatusFulfilled},
		{name: "captured rejected", status: enums.DepositStatusActive, payment: enums.PaymentStatusCaptured, wantErrCode: pkgerrors.CodeStateConflict},
		{name: "pending rejected", status: enums.DepositStatusCreated, payment: enums.PaymentStatusPending, wantErrCode: pkgerrors.CodeStateConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, &fakeGateway{})
			d := f.seed(t, tc.status, tc.payment, "pi_x")
			got, _, err := f.orch.CancelHold(context.Background(), d.ID, SystemActor)
			if tc.wantErrCode != "" {
				assert.True(t, pkgerrors.IsCode(err, tc.wantErrCode), "got %v", err)
				assert.Empty(t, f.gateway.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, enums.PaymentStatusCancelled, got.PaymentStatus)
			assert.Equal(t, tc.wantStatus, got.Status)
			assert.Equal(t, []string{"cancel:pi_x"}, f.gateway.calls)
		})
	}
}

func TestCancelHoldByAdmin(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	d := f.seed(t, enums.DepositStatusActive, enums.PaymentStatusCompleted, "pi_x")
	_, entry, err := f.orch.CancelHold(context.Background(), d.ID, Actor{ID: "admin-1", Reason: "duplicate"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, enums.AuditActionManualCancellation, entry.Action)
	assert.Equal(t, "admin-1", entry.Actor)
}

func TestRefundLocked(t *testing.T) {
	tests := []struct {
		name       string
		payment    enums.PaymentStatus
		ref        string
		refundErr  error
		cancelErr  error
		want       enums.PaymentStatus
		wantMethod string
		wantCalls  []string
	}{
		{name: "void completed hold", payment: enums.PaymentStatusCompleted, ref: "pi_1", want: enums.PaymentStatusRefunded, wantMethod: RefundMethodVoid, wantCalls: []string{"cancel:pi_1"}},
		{name: "refund captured", payment: enums.PaymentStatusCaptured, ref: "pi_1", want: enums.PaymentStatusRefunded, wantMethod: RefundMethodRefund, wantCalls: []string{"refund:pi_1"}},
		{name: "no reference", payment: enums.PaymentStatusCaptured, want: enums.PaymentStatusRefunded, wantMethod: RefundMethodDirect},
		{name: "gateway rejects refund", payment: enums.PaymentStatusCaptured, ref: "pi_1", refundErr: errors.New("insufficient balance"), want: enums.PaymentStatusRefundFailed, wantMethod: RefundMethodRefund, wantCalls: []string{"refund:pi_1"}},
		{name: "gateway rejects void", payment: enums.PaymentStatusCompleted, ref: "pi_1", cancelErr: errors.New("gone"), want: enums.PaymentStatusRefundFailed, wantMethod: RefundMethodVoid, wantCalls: []string{"cancel:pi_1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, &fakeGateway{refundErr: tc.refundErr, cancelErr: tc.cancelErr})
			d := f.seed(t, enums.DepositStatusExpired, tc.payment, tc.ref)

			result, err := f.orch.RefundLocked(context.Background(), d.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.After.PaymentStatus)
			assert.Equal(t, tc.payment, result.Before.PaymentStatus)
			assert.Equal(t, tc.wantMethod, result.Method)
			assert.Equal(t, tc.refundErr != nil || tc.cancelErr != nil, result.GatewayErr != nil)
			assert.Equal(t, tc.wantCalls, f.gateway.calls)
			assert.Equal(t, enums.DepositStatusExpired, result.After.Status)
		})
	}
}

func TestRefundRejectsWithoutFunds(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	d := f.seed(t, enums.DepositStatusPendingPayment, enums.PaymentStatusProcessing, "pi_1")
	_, _, err := f.orch.Refund(context.Background(), d.ID, SystemActor)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, f.gateway.calls)
}

func TestRestitute(t *testing.T) {
	tests := []struct {
		name        string
		status      enums.DepositStatus
		payment     enums.PaymentStatus
		wantStatus  enums.DepositStatus
		wantPayment enums.PaymentStatus
		wantCalls   []string
	}{
		{name: "captured active", status: enums.DepositStatusActive, payment: enums.PaymentStatusCaptured, wantStatus: enums.DepositStatusCancelled, wantPayment: enums.PaymentStatusRefunded, wantCalls: []string{"refund:pi_r"}},
		{name: "processing hold", status: enums.DepositStatusPendingPayment, payment: enums.PaymentStatusProcessing, wantStatus: enums.DepositStatusCancelled, wantPayment: enums.PaymentStatusCancelled, wantCalls: []string{"cancel:pi_r"}},
		{name: "refund failed retried", status: enums.DepositStatusExpired, payment: enums.PaymentStatusRefundFailed, wantStatus: enums.DepositStatusExpired, wantPayment: enums.PaymentStatusRefunded, wantCalls: []string{"refund:pi_r"}},
		{name: "already refunded", status: enums.DepositStatusExpired, payment: enums.PaymentStatusRefunded, wantStatus: enums.DepositStatusExpired, wantPayment: enums.PaymentStatusRefunded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, &fakeGateway{})
			d := f.seed(t, tc.status, tc.payment, "pi_r")

			got, entry, err := f.orch.Restitute(context.Background(), d.ID, "admin-2", "buyer dispute")
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, got.Status)
			assert.Equal(t, tc.wantPayment, got.PaymentStatus)
			assert.Equal(t, tc.wantCalls, f.gateway.calls)

			require.NotNil(t, entry)
			assert.Equal(t, enums.AuditActionManualRestitution, entry.Action)
			assert.Equal(t, tc.payment, entry.PreviousPaymentStatus)
			assert.Equal(t, tc.wantPayment, entry.NewPaymentStatus)
			assert.Len(t, f.entries(t, d.ID), 1)
		})
	}
}

func TestRestituteValidation(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	d := f.seed(t, enums.DepositStatusActive, enums.PaymentStatusCaptured, "pi_r")

	_, _, err := f.orch.Restitute(context.Background(), d.ID, "", "reason")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, _, err = f.orch.Restitute(context.Background(), d.ID, "admin", " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, _, err = f.orch.Restitute(context.Background(), d.ID, audit.ActorSystem, "reason")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.gateway.calls)
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name        string
		event       EventType
		status      enums.DepositStatus
		payment     enums.PaymentStatus
		wantStatus  enums.DepositStatus
		wantPayment enums.PaymentStatus
		wantNotify  bool
	}{
		{name: "hold succeeded", event: EventHoldSucceeded, status: enums.DepositStatusPendingPayment, payment: enums.PaymentStatusProcessing, wantStatus: enums.DepositStatusActive, wantPayment: enums.PaymentStatusCompleted},
		{name: "hold failed", event: EventHoldFailed, status: enums.DepositStatusPendingPayment, payment: enums.PaymentStatusProcessing, wantStatus: enums.DepositStatusCancelled, wantPayment: enums.PaymentStatusFailed, wantNotify: true},
		{name: "hold cancelled", event: EventHoldCancelled, status: enums.DepositStatusActive, payment: enums.PaymentStatusCompleted, wantStatus: enums.DepositStatusCancelled, wantPayment: enums.PaymentStatusCancelled},
		{name: "capture succeeded", event: EventCaptureSucceeded, status: enums.DepositStatusActive, payment: enums.PaymentStatusCompleted, wantStatus: enums.DepositStatusActive, wantPayment: enums.PaymentStatusCaptured},
		{name: "capture after expiry refund ignored", event: EventCaptureSucceeded, status: enums.DepositStatusExpired, payment: enums.PaymentStatusRefunded, wantStatus: enums.DepositStatusExpired, wantPayment: enums.PaymentStatusRefunded},
		{name: "hold succeeded twice ignored", event: EventHoldSucceeded, status: enums.DepositStatusExpired, payment: enums.PaymentStatusRefunded, wantStatus: enums.DepositStatusExpired, wantPayment: enums.PaymentStatusRefunded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrchestratorFixture(t, &fakeGateway{})
			d := f.seed(t, tc.status, tc.payment, "pi_e")

			err := f.orch.HandleEvent(context.Background(), Event{Type: tc.event, DepositID: d.ID, PaymentRef: "pi_e"})
			require.NoError(t, err)
			stored := f.get(t, d.ID)
			assert.Equal(t, tc.wantStatus, stored.Status)
			assert.Equal(t, tc.wantPayment, stored.PaymentStatus)
			if tc.wantNotify {
				assert.Equal(t, []enums.NotificationType{enums.NotificationTypePaymentFailed}, f.notifier.sent)
			} else {
				assert.Empty(t, f.notifier.sent)
			}
			assert.Empty(t, f.entries(t, d.ID), "gateway events are not audited")
		})
	}
}

func TestHoldSucceededAfterExpiryIsVoided(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	d := f.seed(t, enums.DepositStatusExpired, enums.PaymentStatusProcessing, "pi_late")

	require.NoError(t, f.orch.HandleEvent(context.Background(), Event{Type: EventHoldSucceeded, DepositID: d.ID, PaymentRef: "pi_late"}))

	stored := f.get(t, d.ID)
	assert.Equal(t, enums.DepositStatusExpired, stored.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, stored.PaymentStatus)
	assert.Equal(t, []string{"cancel:pi_late"}, f.gateway.calls)

	entries := f.entries(t, d.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.AuditActionAutoRefund, entries[0].Action)
	assert.Equal(t, enums.PaymentStatusCompleted, entries[0].PreviousPaymentStatus)
	assert.Equal(t, RefundMethodVoid, entries[0].Metadata["refund_method"])
	assert.Equal(t, "late_hold", entries[0].Metadata["trigger"])
}

func TestHoldSucceededAfterExpiryVoidFailure(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{cancelErr: errors.New("intent already canceled")})
	d := f.seed(t, enums.DepositStatusExpired, enums.PaymentStatusProcessing, "pi_late")

	require.NoError(t, f.orch.HandleEvent(context.Background(), Event{Type: EventHoldSucceeded, DepositID: d.ID}))
	assert.Equal(t, enums.PaymentStatusRefundFailed, f.get(t, d.ID).PaymentStatus)
	entries := f.entries(t, d.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "intent already canceled", entries[0].Metadata["gateway_error"])
}

func TestHandleEventDropsUnknownAndMismatched(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	require.NoError(t, f.orch.HandleEvent(context.Background(), Event{Type: EventHoldSucceeded, DepositID: uuid.New()}))

	d := f.seed(t, enums.DepositStatusPendingPayment, enums.PaymentStatusProcessing, "pi_a")
	require.NoError(t, f.orch.HandleEvent(context.Background(), Event{Type: EventHoldSucceeded, DepositID: d.ID, PaymentRef: "pi_b"}))
	assert.Equal(t, enums.PaymentStatusProcessing, f.get(t, d.ID).PaymentStatus)

	err := f.orch.HandleEvent(context.Background(), Event{Type: "charge.refunded", DepositID: d.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestConcurrentEventsSerialize(t *testing.T) {
	f := newOrchestratorFixture(t, &fakeGateway{})
	d := f.seed(t, enums.DepositStatusPendingPayment, enums.PaymentStatusProcessing, "pi_c")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.orch.HandleEvent(context.Background(), Event{Type: EventHoldSucceeded, DepositID: d.ID})
		}()
	}
	wg.Wait()

	stored := f.get(t, d.ID)
	assert.Equal(t, enums.PaymentStatusCompleted, stored.PaymentStatus)
	assert.Equal(t, int64(2), stored.Version, "only the first event applies")
}
