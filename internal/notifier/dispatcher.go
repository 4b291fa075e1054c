package notifier

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rentiva/rentiva-backend/pkg/db/models"
	"github.com/rentiva/rentiva-backend/pkg/enums"
	"github.com/rentiva/rentiva-backend/pkg/logger"
	"github.com/rentiva/rentiva-backend/pkg/types"
)

// Dispatcher fans out order lifecycle notifications after the primary
// transaction commits. Every method is fire-and-forget: failures are logged
// with full context and never surface to the caller.
type Dispatcher struct {
	svc  Service
	logg *logger.Logger
}

// NewDispatcher wires the best-effort notification fan-out.
func NewDispatcher(svc Service, logg *logger.Logger) (*Dispatcher, error) {
	if svc == nil {
		return nil, fmt.Errorf("notifier service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Dispatcher{svc: svc, logg: logg}, nil
}

// OrderCreated notifies every admin that a new order exists.
func (d *Dispatcher) OrderCreated(ctx context.Context, order *models.Order) {
	err := d.svc.NotifyAdmins(ctx,
		enums.NotificationTypeOrderCreated,
		"New order received",
		fmt.Sprintf("Order %s was created for a total of %s %s.", order.OrderNumber, order.Total.StringFixed(2), order.Currency),
		types.JSONMap{"order_id": order.ID.String(), "order_number": order.OrderNumber},
	)
	d.logResult(ctx, "order_created", order.ID, err)
}

// OrderStatusChanged notifies the owner about a lifecycle transition.
func (d *Dispatcher) OrderStatusChanged(ctx context.Context, order *models.Order, previous enums.OrderStatus) {
	err := d.svc.Notify(ctx,
		[]uuid.UUID{order.UserID},
		enums.NotificationTypeOrderStatusChanged,
		"Order status updated",
		fmt.Sprintf("Order %s moved from %s to %s.", order.OrderNumber, previous, order.Status),
		types.JSONMap{"order_id": order.ID.String(), "status": order.Status.String()},
	)
	d.logResult(ctx, "order_status_changed", order.ID, err)
}

// PaymentReceived notifies the owner that an installment payment settled.
func (d *Dispatcher) PaymentReceived(ctx context.Context, order *models.Order, installmentNumber int) {
	err := d.svc.Notify(ctx,
		[]uuid.UUID{order.UserID},
		enums.NotificationTypePaymentReceived,
		"Payment received",
		fmt.Sprintf("Payment %d for order %s was received.", installmentNumber, order.OrderNumber),
		types.JSONMap{"order_id": order.ID.String(), "installment_number": installmentNumber},
	)
	d.logResult(ctx, "payment_received", order.ID, err)
}

// InstallmentReminder notifies the owner about an upcoming due date.
func (d *Dispatcher) InstallmentReminder(ctx context.Context, order *models.Order, installment *models.PaymentInstallment) {
	err := d.svc.Notify(ctx,
		[]uuid.UUID{order.UserID},
		enums.NotificationTypeInstallmentReminder,
		"Installment due soon",
		fmt.Sprintf("Installment %d of order %s (%s %s) is due on %s.",
			installment.InstallmentNumber, order.OrderNumber,
			installment.Amount.StringFixed(2), order.Currency,
			installment.DueDate.Format("2006-01-02")),
		types.JSONMap{
			"order_id":           order.ID.String(),
			"installment_id":     installment.ID.String(),
			"installment_number": installment.InstallmentNumber,
		},
	)
	d.logResult(ctx, "installment_reminder", order.ID, err)
}

// DepositUpdate notifies the owner that the deposit moved state.
func (d *Dispatcher) DepositUpdate(ctx context.Context, order *models.Order) {
	err := d.svc.Notify(ctx,
		[]uuid.UUID{order.UserID},
		enums.NotificationTypeDepositUpdate,
		"Deposit updated",
		fmt.Sprintf("The deposit of order %s is now %s.", order.OrderNumber, order.DepositStatus),
		types.JSONMap{"order_id": order.ID.String(), "deposit_status": order.DepositStatus.String()},
	)
	d.logResult(ctx, "deposit_update", order.ID, err)
}

func (d *Dispatcher) logResult(ctx context.Context, kind string, orderID uuid.UUID, err error) {
	if err == nil {
		return
	}
	ctx = d.logg.WithFields(ctx, map[string]any{
		"notification": kind,
		"order_id":     orderID.String(),
	})
	d.logg.Error(ctx, "notification dispatch failed", err)
}
