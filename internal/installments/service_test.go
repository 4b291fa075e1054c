package installments

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rentiva/rentiva-backend/pkg/auth"
	"github.com/rentiva/rentiva-backend/pkg/config"
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
	orders       map[uuid.UUID]*models.Order
	installments map[uuid.UUID]*models.PaymentInstallment
	invoices     []models.Invoice
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:       map[uuid.UUID]*models.Order{},
		installments: map[uuid.UUID]*models.PaymentInstallment{},
	}
}

func (f *fakeRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepo) CreateBatch(ctx context.Context, rows []models.PaymentInstallment) error {
	for i := range rows {
		row := rows[i]
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		f.installments[row.ID] = &row
	}
	return nil
}

func (f *fakeRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentInstallment, error) {
	row, ok := f.installments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeRepo) FindByOrderAndNumber(ctx context.Context, orderID uuid.UUID, number int) (*models.PaymentInstallment, error) {
	for _, row := range f.installments {
		if row.OrderID == orderID && row.InstallmentNumber == number {
			copied := *row
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentInstallment, error) {
	var rows []models.PaymentInstallment
	for _, row := range f.installments {
		if row.OrderID == orderID {
			rows = append(rows, *row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].InstallmentNumber < rows[j].InstallmentNumber
	})
	return rows, nil
}

func (f *fakeRepo) UpdateInstallment(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	row, ok := f.installments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := updates["status"]; ok {
		row.Status = v.(enums.InstallmentStatus)
	}
	if v, ok := updates["gateway_intent_id"]; ok {
		ref := v.(string)
		row.GatewayIntentID = &ref
	}
	if v, ok := updates["gateway_charge_id"]; ok {
		ref := v.(string)
		row.GatewayChargeID = &ref
	}
	if v, ok := updates["paid_at"]; ok {
		at := v.(time.Time)
		row.PaidAt = &at
	}
	return nil
}

func (f *fakeRepo) SettleInstallment(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error) {
	row, ok := f.installments[id]
	if !ok {
		return 0, nil
	}
	if row.Status == enums.InstallmentStatusCompleted {
		return 0, nil
	}
	if err := f.UpdateInstallment(ctx, id, updates); err != nil {
		return 0, err
	}
	return 1, nil
}

func (f *fakeRepo) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeRepo) UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	order, ok := f.orders[orderID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := updates["payment_status"]; ok {
		order.PaymentStatus = v.(enums.PaymentStatus)
	}
	if v, ok := updates["plan_generated_at"]; ok {
		at := v.(time.Time)
		order.PlanGeneratedAt = &at
	}
	return nil
}

func (f *fakeRepo) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	invoice.ID = uuid.New()
	f.invoices = append(f.invoices, *invoice)
	return nil
}

func (f *fakeRepo) HasInvoice(ctx context.Context, orderID uuid.UUID) (bool, error) {
	for _, invoice := range f.invoices {
		if invoice.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) CountInvoicesForYear(ctx context.Context, year int) (int64, error) {
	return int64(len(f.invoices)), nil
}

func (f *fakeRepo) FindPendingDueBefore(ctx context.Context, cutoff time.Time) ([]models.PaymentInstallment, error) {
	var rows []models.PaymentInstallment
	for _, row := range f.installments {
		if row.Status == enums.InstallmentStatusPending && !row.DueDate.After(cutoff) {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

func (f *fakeRepo) FindOrdersMissingPlan(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	for _, order := range f.orders {
		if order.EligibleForInstallments && order.PlanGeneratedAt == nil && order.Status != enums.OrderStatusCancelled {
			rows = append(rows, *order)
		}
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeGateway struct {
	intents int
	err     error
}

func (g *fakeGateway) CreateIntent(ctx context.Context, params stripe.IntentParams) (*stripe.Intent, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.intents++
	return &stripe.Intent{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
}

type fakeEffects struct {
	received []int
}

func (f *fakeEffects) PaymentReceived(ctx context.Context, order *models.Order, installmentNumber int) {
	f.received = append(f.received, installmentNumber)
}

func testBilling() config.BillingConfig {
	return config.BillingConfig{
		Currency:                "EUR",
		TaxRate:                 "0.21",
		DepositRate:             "0.20",
		InstallmentCount:        3,
		InstallmentIntervalDays: 30,
		InstallmentThreshold:    "500",
	}
}

func newTestService(t *testing.T, repo *fakeRepo) (Service, *fakeGateway, *fakeEffects) {
	t.Helper()
	gateway := &fakeGateway{}
	effects := &fakeEffects{}
	svc, err := NewService(Deps{
		Repo:    repo,
		Tx:      fakeTx{},
		Gateway: gateway,
		Effects: effects,
		Billing: testBilling(),
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, gateway, effects
}

func seedOrder(repo *fakeRepo, total string, eligible bool) *models.Order {
	order := &models.Order{
		ID:                      uuid.New(),
		OrderNumber:             "ORD-2026-0001",
		UserID:                  uuid.New(),
		Currency:                enums.CurrencyEUR,
		Status:                  enums.OrderStatusPending,
		PaymentStatus:           enums.PaymentStatusPending,
		DepositStatus:           enums.DepositStatusPending,
		Total:                   dec(total),
		EligibleForInstallments: eligible,
		CreatedAt:               time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	repo.orders[order.ID] = order
	return order
}

func owner(order *models.Order) auth.Actor {
	return auth.Actor{UserID: order.UserID, Role: enums.UserRoleCustomer}
}

func TestGeneratePlanSplitsExactly(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, _ := newTestService(t, repo)

	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}

	rows, _ := repo.ListByOrder(context.Background(), order.ID)
	if len(rows) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(rows))
	}
	sum := decimal.Zero
	for i, row := range rows {
		if row.InstallmentNumber != i+1 {
			t.Fatalf("installment numbers not contiguous: %d at index %d", row.InstallmentNumber, i)
		}
		if !row.Amount.Equal(dec("200.00")) {
			t.Fatalf("installment %d amount = %s, want 200.00", row.InstallmentNumber, row.Amount)
		}
		sum = sum.Add(row.Amount)
	}
	if !sum.Equal(order.Total) {
		t.Fatalf("plan sum %s != total %s", sum, order.Total)
	}
	if repo.orders[order.ID].PlanGeneratedAt == nil {
		t.Fatal("plan_generated_at not stamped")
	}

	wantDue := order.CreatedAt.Add(60 * 24 * time.Hour)
	if !rows[2].DueDate.Equal(wantDue) {
		t.Fatalf("third due date = %s, want %s", rows[2].DueDate, wantDue)
	}
}

func TestGeneratePlanRemainderOnLast(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "605.00", true)
	svc, _, _ := newTestService(t, repo)

	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}

	rows, _ := repo.ListByOrder(context.Background(), order.ID)
	if !rows[0].Amount.Equal(dec("201.66")) || !rows[1].Amount.Equal(dec("201.66")) {
		t.Fatalf("base shares = %s / %s, want 201.66", rows[0].Amount, rows[1].Amount)
	}
	if !rows[2].Amount.Equal(dec("201.68")) {
		t.Fatalf("last share = %s, want 201.68", rows[2].Amount)
	}
}

func TestGeneratePlanIdempotent(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, _ := newTestService(t, repo)

	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("first generation: %v", err)
	}
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("second generation: %v", err)
	}

	rows, _ := repo.ListByOrder(context.Background(), order.ID)
	if len(rows) != 3 {
		t.Fatalf("retry duplicated plan, got %d rows", len(rows))
	}
}

func TestGeneratePlanRejectsIneligibleOrder(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "450.00", false)
	svc, _, _ := newTestService(t, repo)

	err := svc.GeneratePlan(context.Background(), order.ID)
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRequestPaymentIntent(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, gateway, _ := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	rows, _ := repo.ListByOrder(context.Background(), order.ID)

	result, err := svc.RequestPaymentIntent(context.Background(), owner(order), rows[0].ID)
	if err != nil {
		t.Fatalf("request intent: %v", err)
	}
	if result.ClientSecret == "" || result.IntentID == "" {
		t.Fatalf("incomplete intent result: %+v", result)
	}
	if gateway.intents != 1 {
		t.Fatalf("expected 1 gateway intent, got %d", gateway.intents)
	}
	stored := repo.installments[rows[0].ID]
	if stored.Status != enums.InstallmentStatusProcessing {
		t.Fatalf("installment status = %s, want PROCESSING", stored.Status)
	}
	if stored.GatewayIntentID == nil || *stored.GatewayIntentID != result.IntentID {
		t.Fatal("intent id not persisted")
	}
}

func TestRequestPaymentIntentRejectsPaidInstallment(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, gateway, _ := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	rows, _ := repo.ListByOrder(context.Background(), order.ID)
	if _, err := svc.ConfirmPayment(context.Background(), owner(order), rows[0].ID, "pi_1", "ch_1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err := svc.RequestPaymentIntent(context.Background(), owner(order), rows[0].ID)
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeAlreadyPaid {
		t.Fatalf("expected already paid, got %v", err)
	}
	if gateway.intents != 0 {
		t.Fatalf("gateway must not be called for a paid installment")
	}
}

func TestRequestPaymentIntentForbiddenForStranger(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, _ := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	rows, _ := repo.ListByOrder(context.Background(), order.ID)

	stranger := auth.Actor{UserID: uuid.New(), Role: enums.UserRoleCustomer}
	_, err := svc.RequestPaymentIntent(context.Background(), stranger, rows[0].ID)
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, effects := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	rows, _ := repo.ListByOrder(context.Background(), order.ID)

	first, err := svc.ConfirmPayment(context.Background(), owner(order), rows[0].ID, "pi_1", "ch_1")
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if first.Status != enums.InstallmentStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", first.Status)
	}

	second, err := svc.ConfirmPayment(context.Background(), owner(order), rows[0].ID, "pi_other", "ch_other")
	if err != nil {
		t.Fatalf("repeat confirm must succeed: %v", err)
	}
	if second.Status != enums.InstallmentStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", second.Status)
	}
	stored := repo.installments[rows[0].ID]
	if stored.GatewayChargeID == nil || *stored.GatewayChargeID != "ch_1" {
		t.Fatalf("repeat confirm must not overwrite charge reference, got %v", stored.GatewayChargeID)
	}
	if len(effects.received) != 1 {
		t.Fatalf("expected a single payment notification, got %d", len(effects.received))
	}
}

// staleReadRepo serves pre-commit snapshots of an installment for a bounded
// number of reads, the way a read-committed transaction sees the row before a
// concurrent writer commits.
type staleReadRepo struct {
	*fakeRepo
	stale      *models.PaymentInstallment
	staleReads int
}

func (s *staleReadRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *staleReadRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentInstallment, error) {
	if s.stale != nil && s.staleReads > 0 && s.stale.ID == id {
		s.staleReads--
		row := *s.stale
		return &row, nil
	}
	return s.fakeRepo.FindByID(ctx, id)
}

func TestConfirmPaymentConcurrentDeliveryRecordsOneCharge(t *testing.T) {
	base := newFakeRepo()
	repo := &staleReadRepo{fakeRepo: base}
	order := seedOrder(base, "600.00", true)
	effects := &fakeEffects{}
	svc, err := NewService(Deps{
		Repo:    repo,
		Tx:      fakeTx{},
		Gateway: &fakeGateway{},
		Effects: effects,
		Billing: testBilling(),
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	rows, _ := base.ListByOrder(context.Background(), order.ID)

	if _, err := svc.ConfirmPayment(context.Background(), owner(order), rows[0].ID, "pi_a", "ch_a"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	// The second webhook delivery read its snapshot before the first commit,
	// so the completed-status read guard does not stop it; both the
	// authorization read and the in-transaction read see PENDING.
	snapshot := rows[0]
	snapshot.Status = enums.InstallmentStatusPending
	repo.stale = &snapshot
	repo.staleReads = 2

	second, err := svc.ConfirmPayment(context.Background(), owner(order), rows[0].ID, "pi_b", "ch_b")
	if err != nil {
		t.Fatalf("racing confirm must succeed as a no-op: %v", err)
	}
	if second.Status != enums.InstallmentStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", second.Status)
	}
	stored := base.installments[rows[0].ID]
	if stored.GatewayChargeID == nil || *stored.GatewayChargeID != "ch_a" {
		t.Fatalf("losing confirmation must not overwrite charge reference, got %v", stored.GatewayChargeID)
	}
	if len(effects.received) != 1 {
		t.Fatalf("expected a single payment notification, got %d", len(effects.received))
	}
}

func TestConfirmAllInstallmentsFlipsOrderAndIssuesInvoice(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, _ := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	rows, _ := repo.ListByOrder(context.Background(), order.ID)

	// Confirm out of order: completion must not depend on sequence.
	for _, idx := range []int{2, 0, 1} {
		if _, err := svc.ConfirmPayment(context.Background(), owner(order), rows[idx].ID, "pi", "ch"); err != nil {
			t.Fatalf("confirm %d: %v", idx, err)
		}
	}

	if repo.orders[order.ID].PaymentStatus != enums.PaymentStatusCompleted {
		t.Fatalf("order payment status = %s, want COMPLETED", repo.orders[order.ID].PaymentStatus)
	}
	if len(repo.invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(repo.invoices))
	}
	if !repo.invoices[0].Amount.Equal(order.Total) {
		t.Fatalf("invoice amount = %s, want %s", repo.invoices[0].Amount, order.Total)
	}
}

func TestConfirmPartialKeepsOrderPending(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, _ := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	rows, _ := repo.ListByOrder(context.Background(), order.ID)

	if _, err := svc.ConfirmPayment(context.Background(), owner(order), rows[0].ID, "pi", "ch"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if repo.orders[order.ID].PaymentStatus == enums.PaymentStatusCompleted {
		t.Fatal("order must not be fully paid after one installment")
	}
	if len(repo.invoices) != 0 {
		t.Fatal("invoice must only be issued on full settlement")
	}
}

func TestConfirmByNumberSettlesFirstInstallment(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, _ := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}

	if err := svc.ConfirmByNumber(context.Background(), order.ID, 1, "pi_calc"); err != nil {
		t.Fatalf("confirm by number: %v", err)
	}

	next, err := svc.NextPending(context.Background(), owner(order), order.ID)
	if err != nil {
		t.Fatalf("next pending: %v", err)
	}
	if next == nil || next.InstallmentNumber != 2 {
		t.Fatalf("next pending = %+v, want installment 2", next)
	}
}

func TestNextPendingNilWhenSettled(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, _ := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	rows, _ := repo.ListByOrder(context.Background(), order.ID)
	for _, row := range rows {
		if _, err := svc.ConfirmPayment(context.Background(), owner(order), row.ID, "pi", "ch"); err != nil {
			t.Fatalf("confirm: %v", err)
		}
	}

	next, err := svc.NextPending(context.Background(), owner(order), order.ID)
	if err != nil {
		t.Fatalf("next pending: %v", err)
	}
	if next != nil {
		t.Fatalf("expected no pending installment, got %+v", next)
	}
}

func TestSummary(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, _ := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	rows, _ := repo.ListByOrder(context.Background(), order.ID)
	if _, err := svc.ConfirmPayment(context.Background(), owner(order), rows[0].ID, "pi", "ch"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	summary, err := svc.Summary(context.Background(), owner(order), order.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Paid.Equal(dec("200.00")) || !summary.Outstanding.Equal(dec("400.00")) {
		t.Fatalf("paid/outstanding = %s/%s, want 200.00/400.00", summary.Paid, summary.Outstanding)
	}
	if summary.AllPaid {
		t.Fatal("plan must not report all paid")
	}
	if summary.NextDue == nil || summary.NextDue.InstallmentNumber != 2 {
		t.Fatalf("next due = %+v, want installment 2", summary.NextDue)
	}
}

func TestSummaryDetectsInconsistentPlan(t *testing.T) {
	repo := newFakeRepo()
	order := seedOrder(repo, "600.00", true)
	svc, _, _ := newTestService(t, repo)
	if err := svc.GeneratePlan(context.Background(), order.ID); err != nil {
		t.Fatalf("generate plan: %v", err)
	}
	for _, row := range repo.installments {
		row.Amount = dec("150.00")
		break
	}

	_, err := svc.Summary(context.Background(), owner(order), order.ID)
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeInconsistentPlan {
		t.Fatalf("expected inconsistent plan error, got %v", err)
	}
}
