package deposits

import (
	"context"
	"errors"
	"fmt"

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

// paymentGateway is the slice of the Stripe client the sub-ledger consumes.
type paymentGateway interface {
	Charge(ctx context.Context, params stripe.ChargeParams) (string, error)
	Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (string, error)
}

// sideEffects is the fire-and-forget notification fan-out.
type sideEffects interface {
	DepositUpdate(ctx context.Context, order *models.Order)
}

// Service owns the deposit sub-lifecycle of an order. Both operations are
// admin-only and tied to the rental being in progress or completed.
type Service interface {
	Capture(ctx context.Context, actor auth.Actor, orderID uuid.UUID, notes *string) (*models.Order, error)
	Release(ctx context.Context, actor auth.Actor, orderID uuid.UUID, retainedAmount decimal.Decimal, notes *string) (*models.Order, error)
}

// Deps enumerates the service dependencies; all are required.
type Deps struct {
	Repo    Repository
	Gateway paymentGateway
	Effects sideEffects
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	gateway paymentGateway
	effects sideEffects
	logg    *logger.Logger
}

// NewService builds a deposit service, validating every dependency.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("deposits repository required")
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
		gateway: deps.Gateway,
		effects: deps.Effects,
		logg:    deps.Logger,
	}, nil
}

// Capture charges the deposit amount against the customer's stored payment
// method and moves PENDING → CAPTURED. The gateway call runs before the
// guarded write; a lost race surfaces as an invalid deposit state.
func (s *service) Capture(ctx context.Context, actor auth.Actor, orderID uuid.UUID, notes *string) (*models.Order, error) {
	order, err := s.adminOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusInProgress && order.Status != enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "deposit can only be captured for an active or completed rental")
	}
	if order.DepositStatus != enums.DepositStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invalid deposit state").
			WithDetails(map[string]any{"depositStatus": order.DepositStatus})
	}

	user, err := s.repo.FindUser(ctx, order.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order owner")
	}
	if user.CustomerRef == nil || *user.CustomerRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order owner has no stored payment method")
	}

	chargeID, err := s.gateway.Charge(ctx, stripe.ChargeParams{
		CustomerRef: *user.CustomerRef,
		Amount:      order.DepositAmount,
		Currency:    order.Currency,
		Description: fmt.Sprintf("Security deposit for order %s", order.OrderNumber),
	})
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"deposit_status":    enums.DepositStatusCaptured,
		"deposit_charge_id": chargeID,
	}
	if notes != nil {
		updates["deposit_notes"] = *notes
	}
	affected, err := s.repo.UpdateDepositState(ctx, order.ID, enums.DepositStatusPending, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record deposit capture")
	}
	if affected == 0 {
		// Charge succeeded but another capture won the race; the charge id is
		// logged so the duplicate can be refunded manually.
		ctx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "charge_id": chargeID})
		s.logg.Error(ctx, "deposit capture raced, charge needs manual refund", nil)
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invalid deposit state")
	}

	order.DepositStatus = enums.DepositStatusCaptured
	order.DepositChargeID = &chargeID
	order.DepositNotes = notes

	s.effects.DepositUpdate(ctx, order)
	return order, nil
}

// Release refunds depositAmount − retainedAmount against the capture charge
// and moves CAPTURED → RELEASED (nothing retained) or PARTIALLY_RETAINED.
func (s *service) Release(ctx context.Context, actor auth.Actor, orderID uuid.UUID, retainedAmount decimal.Decimal, notes *string) (*models.Order, error) {
	order, err := s.adminOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if order.DepositStatus != enums.DepositStatusCaptured {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invalid deposit state").
			WithDetails(map[string]any{"depositStatus": order.DepositStatus})
	}
	if retainedAmount.IsNegative() || retainedAmount.GreaterThan(order.DepositAmount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "retained amount must be between zero and the deposit amount").
			WithDetails(map[string]any{"depositAmount": order.DepositAmount.String()})
	}
	if order.DepositChargeID == nil || *order.DepositChargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "deposit has no charge reference to refund against")
	}

	refundAmount := order.DepositAmount.Sub(retainedAmount)
	var refundID string
	if refundAmount.IsPositive() {
		refundID, err = s.gateway.Refund(ctx, *order.DepositChargeID, refundAmount)
		if err != nil {
			return nil, err
		}
	}

	next := enums.DepositStatusReleased
	if retainedAmount.IsPositive() {
		next = enums.DepositStatusPartiallyRetained
	}

	updates := map[string]any{
		"deposit_status":          next,
		"deposit_retained_amount": retainedAmount,
	}
	if refundID != "" {
		updates["deposit_refund_id"] = refundID
	}
	if notes != nil {
		updates["deposit_notes"] = *notes
	}
	affected, err := s.repo.UpdateDepositState(ctx, order.ID, enums.DepositStatusCaptured, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record deposit release")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invalid deposit state")
	}

	order.DepositStatus = next
	order.DepositRetainedAmount = &retainedAmount
	if refundID != "" {
		order.DepositRefundID = &refundID
	}
	order.DepositNotes = notes

	s.effects.DepositUpdate(ctx, order)
	return order, nil
}

func (s *service) adminOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
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
	return order, nil
}
