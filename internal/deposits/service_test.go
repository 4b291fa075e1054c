package deposits

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rentiva/rentiva-backend/pkg/auth"
	"github.com/rentiva/rentiva-backend/pkg/db/models"
	"github.com/rentiva/rentiva-backend/pkg/enums"
	pkgerrors "github.com/rentiva/rentiva-backend/pkg/errors"
	"github.com/rentiva/rentiva-backend/pkg/logger"
	"github.com/rentiva/rentiva-backend/pkg/stripe"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeRepo struct {
	orders map[uuid.UUID]*models.Order
	users  map[uuid.UUID]*models.User
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders: map[uuid.UUID]*models.Order{},
		users:  map[uuid.UUID]*models.User{},
	}
}

func (f *fakeRepo) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeRepo) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *user
	return &copied, nil
}

func (f *fakeRepo) UpdateDepositState(ctx context.Context, orderID uuid.UUID, from enums.DepositStatus, updates map[string]any) (int64, error) {
	order, ok := f.orders[orderID]
	if !ok || order.DepositStatus != from {
		return 0, nil
	}
	if v, ok := updates["deposit_status"]; ok {
		order.DepositStatus = v.(enums.DepositStatus)
	}
	if v, ok := updates["deposit_charge_id"]; ok {
		ref := v.(string)
		order.DepositChargeID = &ref
	}
	if v, ok := updates["deposit_refund_id"]; ok {
		ref := v.(string)
		order.DepositRefundID = &ref
	}
	if v, ok := updates["deposit_retained_amount"]; ok {
		amount := v.(decimal.Decimal)
		order.DepositRetainedAmount = &amount
	}
	if v, ok := updates["deposit_notes"]; ok {
		notes := v.(string)
		order.DepositNotes = &notes
	}
	return 1, nil
}

type fakeGateway struct {
	charges      int
	refunds      int
	lastRefund   decimal.Decimal
	chargeErr    error
	refundErr    error
	lastChargeID string
}

func (g *fakeGateway) Charge(ctx context.Context, params stripe.ChargeParams) (string, error) {
	if g.chargeErr != nil {
		return "", g.chargeErr
	}
	g.charges++
	return "ch_deposit", nil
}

func (g *fakeGateway) Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (string, error) {
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.refunds++
	g.lastRefund = amount
	g.lastChargeID = chargeID
	return "re_deposit", nil
}

type fakeEffects struct {
	updates int
}

func (f *fakeEffects) DepositUpdate(ctx context.Context, order *models.Order) {
	f.updates++
}

func newTestService(t *testing.T, repo *fakeRepo) (Service, *fakeGateway, *fakeEffects) {
	t.Helper()
	gateway := &fakeGateway{}
	effects := &fakeEffects{}
	svc, err := NewService(Deps{
		Repo:    repo,
		Gateway: gateway,
		Effects: effects,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, gateway, effects
}

func seedOrder(repo *fakeRepo, status enums.OrderStatus, depositStatus enums.DepositStatus) *models.Order {
	ref := "cus_123"
	user := &models.User{ID: uuid.New(), Email: "owner@example.com", Role: enums.UserRoleCustomer, CustomerRef: &ref}
	repo.users[user.ID] = user

	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-2026-0001",
		UserID:        user.ID,
		Currency:      enums.CurrencyEUR,
		Status:        status,
		DepositStatus: depositStatus,
		Total:         dec("500.00"),
		DepositAmount: dec("100.00"),
	}
	repo.orders[order.ID] = order
	return order
}

func admin() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Role: enums.UserRoleAdmin}
}

func TestCaptureDeposit(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, enums.OrderStatusInProgress, enums.DepositStatusPending)
	svc, gateway, effects := newTestService(t, repo)

	updated, err := svc.Capture(context.Background(), admin(), order.ID, nil)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if updated.DepositStatus != enums.DepositStatusCaptured {
		t.Fatalf("deposit status = %s, want CAPTURED", updated.DepositStatus)
	}
	if gateway.charges != 1 {
		t.Fatalf("expected 1 charge, got %d", gateway.charges)
	}
	if repo.orders[order.ID].DepositChargeID == nil {
		t.Fatal("charge reference not stored")
	}
	if effects.updates != 1 {
		t.Fatalf("expected one deposit notification, got %d", effects.updates)
	}
}

func TestCaptureRejectsNonAdmin(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, enums.OrderStatusInProgress, enums.DepositStatusPending)
	svc, _, _ := newTestService(t, repo)

	customer := auth.Actor{UserID: order.UserID, Role: enums.UserRoleCustomer}
	_, err := svc.Capture(context.Background(), customer, order.ID, nil)
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCaptureRejectsPendingRental(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, enums.OrderStatusPending, enums.DepositStatusPending)
	svc, gateway, _ := newTestService(t, repo)

	_, err := svc.Capture(context.Background(), admin(), order.ID, nil)
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if gateway.charges != 0 {
		t.Fatal("gateway must not be charged")
	}
}

func TestCaptureRejectsAlreadyCaptured(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, enums.OrderStatusInProgress, enums.DepositStatusCaptured)
	svc, gateway, _ := newTestService(t, repo)

	_, err := svc.Capture(context.Background(), admin(), order.ID, nil)
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if gateway.charges != 0 {
		t.Fatal("gateway must not be charged twice")
	}
}

func TestReleaseFullRefund(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, enums.OrderStatusCompleted, enums.DepositStatusCaptured)
	ref := "ch_deposit"
	repo.orders[order.ID].DepositChargeID = &ref
	svc, gateway, _ := newTestService(t, repo)

	updated, err := svc.Release(context.Background(), admin(), order.ID, decimal.Zero, nil)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if updated.DepositStatus != enums.DepositStatusReleased {
		t.Fatalf("deposit status = %s, want RELEASED", updated.DepositStatus)
	}
	if !gateway.lastRefund.Equal(dec("100.00")) {
		t.Fatalf("refund = %s, want 100.00", gateway.lastRefund)
	}
	if gateway.lastChargeID != "ch_deposit" {
		t.Fatalf("refund issued against %q, want ch_deposit", gateway.lastChargeID)
	}
}

func TestReleasePartialRetention(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, enums.OrderStatusCompleted, enums.DepositStatusCaptured)
	ref := "ch_deposit"
	repo.orders[order.ID].DepositChargeID = &ref
	svc, gateway, _ := newTestService(t, repo)

	updated, err := svc.Release(context.Background(), admin(), order.ID, dec("20.00"), nil)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if updated.DepositStatus != enums.DepositStatusPartiallyRetained {
		t.Fatalf("deposit status = %s, want PARTIALLY_RETAINED", updated.DepositStatus)
	}
	if !gateway.lastRefund.Equal(dec("80.00")) {
		t.Fatalf("refund = %s, want 80.00", gateway.lastRefund)
	}
	if updated.DepositRetainedAmount == nil || !updated.DepositRetainedAmount.Equal(dec("20.00")) {
		t.Fatalf("retained = %v, want 20.00", updated.DepositRetainedAmount)
	}
}

func TestReleaseFullRetentionSkipsGateway(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, enums.OrderStatusCompleted, enums.DepositStatusCaptured)
	ref := "ch_deposit"
	repo.orders[order.ID].DepositChargeID = &ref
	svc, gateway, _ := newTestService(t, repo)

	updated, err := svc.Release(context.Background(), admin(), order.ID, dec("100.00"), nil)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if updated.DepositStatus != enums.DepositStatusPartiallyRetained {
		t.Fatalf("deposit status = %s, want PARTIALLY_RETAINED", updated.DepositStatus)
	}
	if gateway.refunds != 0 {
		t.Fatal("no refund should be issued when everything is retained")
	}
}

func TestReleaseRejectsOutOfRangeRetention(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, enums.OrderStatusCompleted, enums.DepositStatusCaptured)
	ref := "ch_deposit"
	repo.orders[order.ID].DepositChargeID = &ref
	svc, gateway, _ := newTestService(t, repo)

	for _, retained := range []string{"-0.01", "100.01"} {
		_, err := svc.Release(context.Background(), admin(), order.ID, dec(retained), nil)
		if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
			t.Fatalf("retained %s: expected validation error, got %v", retained, err)
		}
	}
	if gateway.refunds != 0 {
		t.Fatal("gateway must not be called for invalid input")
	}
}

func TestReleaseRequiresCapturedState(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, enums.OrderStatusCompleted, enums.DepositStatusPending)
	svc, _, _ := newTestService(t, repo)

	_, err := svc.Release(context.Background(), admin(), order.ID, decimal.Zero, nil)
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}
