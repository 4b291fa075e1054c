package installments

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/rentiva/rentiva-backend/pkg/money"
	"github.com/rentiva/rentiva-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// paymentGateway is the slice of the Stripe client the tracker consumes.
type paymentGateway interface {
	CreateIntent(ctx context.Context, params stripe.IntentParams) (*stripe.Intent, error)
}

// sideEffects is the fire-and-forget notification fan-out.
type sideEffects interface {
	PaymentReceived(ctx context.Context, order *models.Order, installmentNumber int)
}

// Service decides, generates and tracks the fixed-size payment plan.
type Service interface {
	GeneratePlan(ctx context.Context, orderID uuid.UUID) error
	ConfirmByNumber(ctx context.Context, orderID uuid.UUID, installmentNumber int, paymentRef string) error
	ListForOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) ([]models.PaymentInstallment, error)
	Summary(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PlanSummary, error)
	NextPending(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.PaymentInstallment, error)
	RequestPaymentIntent(ctx context.Context, actor auth.Actor, installmentID uuid.UUID) (*IntentResult, error)
	ConfirmPayment(ctx context.Context, actor auth.Actor, installmentID uuid.UUID, intentID, chargeID string) (*models.PaymentInstallment, error)
}

// PlanSummary aggregates the payment progress of one order's plan.
type PlanSummary struct {
	Total       decimal.Decimal            `json:"total"`
	Paid        decimal.Decimal            `json:"paid"`
	Outstanding decimal.Decimal            `json:"outstanding"`
	AllPaid     bool                       `json:"allPaid"`
	NextDue     *models.PaymentInstallment `json:"nextDue,omitempty"`
}

// IntentResult carries the gateway handle the frontend needs.
type IntentResult struct {
	InstallmentID uuid.UUID `json:"installmentId"`
	IntentID      string    `json:"intentId"`
	ClientSecret  string    `json:"clientSecret"`
}

// Deps enumerates the service dependencies; all are required.
type Deps struct {
	Repo    Repository
	Tx      txRunner
	Gateway paymentGateway
	Effects sideEffects
	Billing config.BillingConfig
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	tx      txRunner
	gateway paymentGateway
	effects sideEffects
	billing config.BillingConfig
	logg    *logger.Logger
}

// NewService builds an installment service, validating every dependency.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("installments repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if deps.Effects == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    deps.Repo,
		tx:      deps.Tx,
		gateway: deps.Gateway,
		effects: deps.Effects,
		billing: deps.Billing,
		logg:    deps.Logger,
	}, nil
}

// GeneratePlan splits the order total into N equal shares in integer cents,
// assigns the rounding remainder to the last share and stamps the order's
// plan_generated_at. It is a no-op when a plan already exists, which makes
// the reconciliation retry safe.
func (s *service) GeneratePlan(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !order.EligibleForInstallments {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not eligible for installments")
		}

		existing, err := repo.ListByOrder(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing plan")
		}
		if len(existing) > 0 {
			if order.PlanGeneratedAt == nil {
				return repo.UpdateOrder(ctx, orderID, map[string]any{"plan_generated_at": time.Now().UTC()})
			}
			return nil
		}

		count := s.billing.InstallmentCount
		shares, err := money.SplitEqual(order.Total, count)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "split order total")
		}

		sum := decimal.Zero
		for _, share := range shares {
			sum = sum.Add(share)
		}
		if !sum.Equal(order.Total) {
			return pkgerrors.New(pkgerrors.CodeInconsistentPlan, "installment shares do not sum to order total").
				WithDetails(map[string]any{"total": order.Total.String(), "sum": sum.String()})
		}

		anchor := order.CreatedAt.UTC()
		interval := s.billing.InstallmentInterval()
		rows := make([]models.PaymentInstallment, count)
		for i := 0; i < count; i++ {
			rows[i] = models.PaymentInstallment{
				OrderID:           orderID,
				InstallmentNumber: i + 1,
				Amount:            shares[i],
				DueDate:           anchor.Add(time.Duration(i) * interval),
				Status:            enums.InstallmentStatusPending,
			}
		}
		if err := repo.CreateBatch(ctx, rows); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist installment plan")
		}
		return repo.UpdateOrder(ctx, orderID, map[string]any{"plan_generated_at": time.Now().UTC()})
	})
}

func (s *service) ListForOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) ([]models.PaymentInstallment, error) {
	if _, err := s.authorizedOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list installments")
	}
	return rows, nil
}

func (s *service) Summary(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*PlanSummary, error) {
	order, err := s.authorizedOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list installments")
	}

	summary := &PlanSummary{Total: order.Total, Paid: decimal.Zero}
	planSum := decimal.Zero
	allPaid := len(rows) > 0
	for i := range rows {
		planSum = planSum.Add(rows[i].Amount)
		if rows[i].Status == enums.InstallmentStatusCompleted {
			summary.Paid = summary.Paid.Add(rows[i].Amount)
			continue
		}
		allPaid = false
		if summary.NextDue == nil {
			summary.NextDue = &rows[i]
		}
	}
	if len(rows) > 0 && !planSum.Equal(order.Total) {
		return nil, pkgerrors.New(pkgerrors.CodeInconsistentPlan, "installment plan does not sum to order total").
			WithDetails(map[string]any{"total": order.Total.String(), "planSum": planSum.String()})
	}

	summary.Outstanding = summary.Total.Sub(summary.Paid)
	summary.AllPaid = allPaid
	return summary, nil
}

// NextPending returns the lowest-numbered non-completed installment, or nil
// when the plan is fully settled or absent.
func (s *service) NextPending(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.PaymentInstallment, error) {
	if _, err := s.authorizedOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list installments")
	}
	for i := range rows {
		if rows[i].Status != enums.InstallmentStatusCompleted {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// RequestPaymentIntent issues a gateway intent for an unpaid installment and
// flips it to PROCESSING. The gateway call runs outside any transaction.
func (s *service) RequestPaymentIntent(ctx context.Context, actor auth.Actor, installmentID uuid.UUID) (*IntentResult, error) {
	installment, order, err := s.authorizedInstallment(ctx, actor, installmentID)
	if err != nil {
		return nil, err
	}
	if installment.Status == enums.InstallmentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyPaid, "installment is already paid")
	}

	intent, err := s.gateway.CreateIntent(ctx, stripe.IntentParams{
		Amount:   installment.Amount,
		Currency: order.Currency,
		Metadata: map[string]string{
			"order_id":           order.ID.String(),
			"installment_number": fmt.Sprintf("%d", installment.InstallmentNumber),
		},
	})
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"gateway_intent_id": intent.ID,
		"status":            enums.InstallmentStatusProcessing,
	}
	if err := s.repo.UpdateInstallment(ctx, installment.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment intent")
	}

	return &IntentResult{
		InstallmentID: installment.ID,
		IntentID:      intent.ID,
		ClientSecret:  intent.ClientSecret,
	}, nil
}

func (s *service) ConfirmPayment(ctx context.Context, actor auth.Actor, installmentID uuid.UUID, intentID, chargeID string) (*models.PaymentInstallment, error) {
	installment, _, err := s.authorizedInstallment(ctx, actor, installmentID)
	if err != nil {
		return nil, err
	}
	return s.confirm(ctx, installment.ID, intentID, chargeID)
}

// ConfirmByNumber records a payment taken before the order existed; the
// calculator-direct creation path uses it to settle installment #1 inline.
func (s *service) ConfirmByNumber(ctx context.Context, orderID uuid.UUID, installmentNumber int, paymentRef string) error {
	if paymentRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	installment, err := s.repo.FindByOrderAndNumber(ctx, orderID, installmentNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "installment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load installment")
	}
	_, err = s.confirm(ctx, installment.ID, paymentRef, paymentRef)
	return err
}

// confirm is the idempotent confirmation core. An already-completed
// installment is a successful no-op regardless of the supplied references;
// double charging is impossible because the gateway is never called here.
// The PENDING/PROCESSING → COMPLETED flip is a conditional write, so two
// confirmations racing on the same row (double webhook delivery) resolve to
// exactly one recorded charge reference and one notification. The all-paid
// check runs inside the same transaction as the status write, so racing
// sibling confirmations each see a consistent snapshot and the
// payment_status flip is an idempotent set.
func (s *service) confirm(ctx context.Context, installmentID uuid.UUID, intentID, chargeID string) (*models.PaymentInstallment, error) {
	var confirmed *models.PaymentInstallment
	var order *models.Order
	var notify bool

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		installment, err := repo.FindByID(ctx, installmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "installment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load installment")
		}
		if installment.Status == enums.InstallmentStatusCompleted {
			confirmed = installment
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":            enums.InstallmentStatusCompleted,
			"gateway_charge_id": chargeID,
			"paid_at":           now,
		}
		if intentID != "" && installment.GatewayIntentID == nil {
			updates["gateway_intent_id"] = intentID
		}
		settled, err := repo.SettleInstallment(ctx, installment.ID, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark installment paid")
		}
		if settled == 0 {
			// A concurrent confirmation committed first; report its result
			// without touching the charge reference or re-firing effects.
			current, err := repo.FindByID(ctx, installment.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload installment")
			}
			confirmed = current
			return nil
		}
		installment.Status = enums.InstallmentStatusCompleted
		installment.GatewayChargeID = &chargeID
		installment.PaidAt = &now
		confirmed = installment
		notify = true

		order, err = repo.FindOrder(ctx, installment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		siblings, err := repo.ListByOrder(ctx, installment.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload installments")
		}
		allPaid := true
		for _, sibling := range siblings {
			if sibling.ID == installment.ID {
				continue
			}
			if sibling.Status != enums.InstallmentStatusCompleted {
				allPaid = false
				break
			}
		}
		if !allPaid {
			return nil
		}

		if order.PaymentStatus != enums.PaymentStatusCompleted {
			if err := repo.UpdateOrder(ctx, order.ID, map[string]any{"payment_status": enums.PaymentStatusCompleted}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
			}
			order.PaymentStatus = enums.PaymentStatusCompleted
		}
		return s.issueInvoice(ctx, repo, order)
	})
	if err != nil {
		return nil, err
	}

	if notify && order != nil {
		s.effects.PaymentReceived(ctx, order, confirmed.InstallmentNumber)
	}
	return confirmed, nil
}

func (s *service) issueInvoice(ctx context.Context, repo Repository, order *models.Order) error {
	exists, err := repo.HasInvoice(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check invoice")
	}
	if exists {
		return nil
	}

	year := time.Now().UTC().Year()
	count, err := repo.CountInvoicesForYear(ctx, year)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count invoices")
	}
	invoice := &models.Invoice{
		OrderID:       order.ID,
		InvoiceNumber: fmt.Sprintf("INV-%d-%04d", year, count+1),
		Amount:        order.Total,
		IssuedAt:      time.Now().UTC(),
	}
	if err := repo.CreateInvoice(ctx, invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "issue invoice")
	}
	return nil
}

func (s *service) authorizedOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !actor.CanAccessOrderOf(order.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

func (s *service) authorizedInstallment(ctx context.Context, actor auth.Actor, installmentID uuid.UUID) (*models.PaymentInstallment, *models.Order, error) {
	if installmentID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "installment id required")
	}
	installment, err := s.repo.FindByID(ctx, installmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "installment not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load installment")
	}
	order, err := s.authorizedOrder(ctx, actor, installment.OrderID)
	if err != nil {
		return nil, nil, err
	}
	return installment, order, nil
}
