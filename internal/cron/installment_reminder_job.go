package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rentiva/rentiva-backend/pkg/db/models"
	"github.com/rentiva/rentiva-backend/pkg/enums"
	"github.com/rentiva/rentiva-backend/pkg/logger"
)

const defaultReminderWindow = 72 * time.Hour

type installmentReminderRepo interface {
	FindPendingDueBefore(ctx context.Context, cutoff time.Time) ([]models.PaymentInstallment, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type reminderDispatcher interface {
	InstallmentReminder(ctx context.Context, order *models.Order, installment *models.PaymentInstallment)
}

type InstallmentReminderJobParams struct {
	Logger     *logger.Logger
	Repository installmentReminderRepo
	Dispatcher reminderDispatcher
	Window     time.Duration
}

func NewInstallmentReminderJob(params InstallmentReminderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("installments repository required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultReminderWindow
	}
	return &installmentReminderJob{
		logg:   params.Logger,
		repo:   params.Repository,
		disp:   params.Dispatcher,
		window: window,
		now:    time.Now,
	}, nil
}

type installmentReminderJob struct {
	logg   *logger.Logger
	repo   installmentReminderRepo
	disp   reminderDispatcher
	window time.Duration
	now    func() time.Time
}

func (j *installmentReminderJob) Name() string { return "installment-reminder" }

// Run notifies owners about PENDING installments whose due date falls inside
// the reminder window. Cancelled orders are skipped.
func (j *installmentReminderJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(j.window)
	due, err := j.repo.FindPendingDueBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find due installments: %w", err)
	}

	reminded := 0
	for i := range due {
		order, err := j.repo.FindOrder(ctx, due[i].OrderID)
		if err != nil {
			logCtx := j.logg.WithField(ctx, "order_id", due[i].OrderID.String())
			j.logg.Error(logCtx, "skipping reminder, order load failed", err)
			continue
		}
		if order.Status == enums.OrderStatusCancelled {
			continue
		}
		j.disp.InstallmentReminder(ctx, order, &due[i])
		reminded++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"due":       len(due),
		"reminded":  reminded,
		"window_hr": j.window.Hours(),
	})
	j.logg.Info(logCtx, "installment reminder sweep complete")
	return nil
}
