package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rentiva/rentiva-backend/internal/catalog"
	"github.com/rentiva/rentiva-backend/internal/pricing"
	"github.com/rentiva/rentiva-backend/pkg/auth"
	"github.com/rentiva/rentiva-backend/pkg/config"
	"github.com/rentiva/rentiva-backend/pkg/db/models"
	"github.com/rentiva/rentiva-backend/pkg/enums"
	pkgerrors "github.com/rentiva/rentiva-backend/pkg/errors"
	"github.com/rentiva/rentiva-backend/pkg/logger"
	"github.com/rentiva/rentiva-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// planGenerator is the slice of the installment service the order lifecycle
// needs: best-effort plan creation plus the calculator-direct inline
// confirmation of installment #1.
type planGenerator interface {
	GeneratePlan(ctx context.Context, orderID uuid.UUID) error
	ConfirmByNumber(ctx context.Context, orderID uuid.UUID, installmentNumber int, paymentRef string) error
}

// sideEffects is the fire-and-forget notification fan-out. Implementations
// must never return errors into the caller.
type sideEffects interface {
	OrderCreated(ctx context.Context, order *models.Order)
	OrderStatusChanged(ctx context.Context, order *models.Order, previous enums.OrderStatus)
}

// Service owns creation and status transitions of the order aggregate.
type Service interface {
	Create(ctx context.Context, actor auth.Actor, input CreateOrderInput) (*models.Order, error)
	CreateFromCalculator(ctx context.Context, actor auth.Actor, input CalculatorOrderInput) (*models.Order, error)
	Get(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, actor auth.Actor, params ListParams) (*ListResult, error)
	Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error)
	MarkReturned(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error)
	AdminEdit(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input AdminEditInput) (*models.Order, error)
}

// ListResult wraps returned orders and the cursor for the next page.
type ListResult struct {
	Items  []models.Order `json:"items"`
	Cursor string         `json:"cursor"`
}

// Deps enumerates the service dependencies; all are required.
type Deps struct {
	Repo    Repository
	Catalog catalog.Repository
	Tx      txRunner
	Planner planGenerator
	Effects sideEffects
	Billing config.BillingConfig
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	catalog catalog.Repository
	tx      txRunner
	planner planGenerator
	effects sideEffects
	billing config.BillingConfig
	logg    *logger.Logger
}

// NewService builds an order service, validating every dependency up front.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Planner == nil {
		return nil, fmt.Errorf("installment planner required")
	}
	if deps.Effects == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    deps.Repo,
		catalog: deps.Catalog,
		tx:      deps.Tx,
		planner: deps.Planner,
		effects: deps.Effects,
		billing: deps.Billing,
		logg:    deps.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, actor auth.Actor, input CreateOrderInput) (*models.Order, error) {
	return s.create(ctx, actor, input, "")
}

func (s *service) CreateFromCalculator(ctx context.Context, actor auth.Actor, input CalculatorOrderInput) (*models.Order, error) {
	if input.ExternalPaymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external payment reference required")
	}
	return s.create(ctx, actor, input.CreateOrderInput, input.ExternalPaymentIntentID)
}

// create is the shared core of both entry points. The order and its items
// commit atomically; installment-plan generation and notifications run after
// the commit with their own error boundary.
func (s *service) create(ctx context.Context, actor auth.Actor, input CreateOrderInput, externalRef string) (*models.Order, error) {
	if !actor.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}

	items, lines, err := s.resolveItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	totals := pricing.ComputeTotals(lines, input.Discount, s.billing.TaxRateDecimal())
	if totals.DiscountClamped {
		s.logg.Warn(ctx, "order discount clamped into valid range")
	}
	deposit := pricing.DepositFor(totals.Total, s.billing.DepositRateDecimal())
	eligible := totals.Total.GreaterThan(s.billing.InstallmentThresholdDecimal())

	order := &models.Order{
		UserID:                  actor.UserID,
		Currency:                enums.Currency(s.billing.Currency),
		Status:                  enums.OrderStatusPending,
		PaymentStatus:           enums.PaymentStatusPending,
		DepositStatus:           enums.DepositStatusPending,
		Subtotal:                totals.Subtotal,
		DiscountAmount:          totals.DiscountAmount,
		TaxAmount:               totals.TaxAmount,
		Total:                   totals.Total,
		DepositAmount:           deposit,
		EligibleForInstallments: eligible,
		IsCalculatorEvent:       externalRef != "",
		DeliveryAddress:         input.DeliveryAddress,
		Notes:                   input.Notes,
	}
	if externalRef != "" {
		// The charge already happened at the gateway. Persisting the reference
		// with the order keeps it recoverable when plan generation fails, so
		// the retry sweep settles installment #1 instead of billing it again.
		ref := externalRef
		order.ExternalPaymentRef = &ref
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		number, err := s.nextOrderNumber(ctx, repo)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generate order number")
		}
		order.OrderNumber = number

		if _, err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := repo.CreateOrderItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}

		if !eligible {
			payment := &models.Payment{
				OrderID: order.ID,
				Amount:  totals.Total,
				Status:  enums.PaymentStatusPending,
			}
			if externalRef != "" {
				now := time.Now().UTC()
				ref := externalRef
				payment.Status = enums.PaymentStatusCompleted
				payment.GatewayIntentID = &ref
				payment.GatewayChargeID = &ref
				payment.PaidAt = &now
			}
			if _, err := repo.CreatePayment(ctx, payment); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment record")
			}
			if payment.Status == enums.PaymentStatusCompleted {
				if err := repo.UpdateOrder(ctx, order.ID, map[string]any{"payment_status": enums.PaymentStatusCompleted}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
				}
				order.PaymentStatus = enums.PaymentStatusCompleted
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if eligible {
		if err := s.planner.GeneratePlan(ctx, order.ID); err != nil {
			s.logg.Error(ctx, "installment plan generation failed, order kept", err)
		} else if externalRef != "" {
			if err := s.planner.ConfirmByNumber(ctx, order.ID, 1, externalRef); err != nil {
				s.logg.Error(ctx, "inline confirmation of first installment failed", err)
			}
		}
	}

	created, err := s.repo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload created order")
	}

	s.effects.OrderCreated(ctx, created)
	return created, nil
}

// resolveItems prices the requested lines against the catalog. Unknown or
// inactive products are skipped; creation fails only when nothing resolves.
func (s *service) resolveItems(ctx context.Context, inputs []CreateItemInput) ([]models.OrderItem, []pricing.LineItem, error) {
	items := make([]models.OrderItem, 0, len(inputs))
	lines := make([]pricing.LineItem, 0, len(inputs))

	for _, in := range inputs {
		if in.ProductID == uuid.Nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "item product id required")
		}
		if in.Quantity < 1 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be at least 1")
		}
		if !in.EndDate.After(in.StartDate) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "item end date must be after start date")
		}

		product, err := s.catalog.FindActive(ctx, in.ProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve product")
		}

		days := rentalDays(in.StartDate, in.EndDate)
		unitPrice := product.PricePerDay.Mul(decimalFromInt(days))
		subtotal := unitPrice.Mul(decimalFromInt(in.Quantity))

		items = append(items, models.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    in.Quantity,
			PricePerDay: product.PricePerDay,
			StartDate:   in.StartDate,
			EndDate:     in.EndDate,
			Days:        days,
			Subtotal:    subtotal,
		})
		lines = append(lines, pricing.LineItem{Quantity: in.Quantity, UnitPrice: unitPrice})
	}

	if len(items) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "no rentable items resolved")
	}
	return items, lines, nil
}

func (s *service) nextOrderNumber(ctx context.Context, repo Repository) (string, error) {
	year := time.Now().UTC().Year()
	count, err := repo.CountForYear(ctx, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%d-%04d", year, count+1), nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessOrderOf(order.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, actor auth.Actor, params ListParams) (*ListResult, error) {
	if !actor.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	query := listOrdersParams{
		Status:        params.Status,
		PaymentStatus: params.PaymentStatus,
		CreatedFrom:   params.CreatedFrom,
		CreatedTo:     params.CreatedTo,
		Search:        params.Search,
		Limit:         params.Limit,
	}
	if !actor.IsAdmin() {
		owner := actor.UserID
		query.UserID = &owner
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, actor, orderID, enums.OrderStatusCancelled, false)
}

func (s *service) UpdateStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if !next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	return s.transition(ctx, actor, orderID, next, true)
}

func (s *service) MarkReturned(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrderWith(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusInProgress {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only an in-progress rental can be returned")
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":      enums.OrderStatusCompleted,
			"returned_at": now,
		}
		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order returned")
		}
		order.Status = enums.OrderStatusCompleted
		order.ReturnedAt = &now
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.effects.OrderStatusChanged(ctx, updated, enums.OrderStatusInProgress)
	return updated, nil
}

func (s *service) AdminEdit(ctx context.Context, actor auth.Actor, orderID uuid.UUID, input AdminEditInput) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if input.DeliveryAddress == nil && input.Notes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no editable fields provided")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "completed orders can no longer be edited")
	}

	updates := map[string]any{}
	if input.DeliveryAddress != nil {
		updates["delivery_address"] = *input.DeliveryAddress
		order.DeliveryAddress = input.DeliveryAddress
	}
	if input.Notes != nil {
		updates["notes"] = *input.Notes
		order.Notes = input.Notes
	}
	if err := s.repo.UpdateOrder(ctx, order.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order fields")
	}
	return order, nil
}

// transition applies a status change inside a transaction. Owners may only
// cancel their own orders; every other transition is admin-gated upstream.
func (s *service) transition(ctx context.Context, actor auth.Actor, orderID uuid.UUID, next enums.OrderStatus, asAdmin bool) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !actor.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var updated *models.Order
	var previous enums.OrderStatus
	noop := false

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrderWith(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if !asAdmin && !actor.CanAccessOrderOf(order.UserID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
		}
		if order.Status == next {
			updated = order
			noop = true
			return nil
		}
		if !order.Status.CanTransitionTo(next) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot transition order from %s to %s", order.Status, next))
		}

		previous = order.Status
		updates := map[string]any{"status": next}
		if next == enums.OrderStatusCancelled {
			now := time.Now().UTC()
			updates["cancelled_at"] = now
			order.CancelledAt = &now
		}
		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		order.Status = next
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !noop {
		s.effects.OrderStatusChanged(ctx, updated, previous)
	}
	return updated, nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.loadOrderWith(ctx, s.repo, orderID)
}

func (s *service) loadOrderWith(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// rentalDays counts whole billable days; a started day counts in full.
func rentalDays(start, end time.Time) int {
	d := end.Sub(start)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}
