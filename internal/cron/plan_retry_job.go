package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/rentiva/rentiva-backend/pkg/db/models"
	"github.com/rentiva/rentiva-backend/pkg/logger"
)

const defaultPlanRetryBatch = 50

type planRetryRepo interface {
	FindOrdersMissingPlan(ctx context.Context, limit int) ([]models.Order, error)
}

type planGenerator interface {
	GeneratePlan(ctx context.Context, orderID uuid.UUID) error
	ConfirmByNumber(ctx context.Context, orderID uuid.UUID, installmentNumber int, paymentRef string) error
}

type PlanRetryJobParams struct {
	Logger     *logger.Logger
	Repository planRetryRepo
	Planner    planGenerator
	BatchSize  int
}

func NewPlanRetryJob(params PlanRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("installments repository required")
	}
	if params.Planner == nil {
		return nil, fmt.Errorf("planner required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPlanRetryBatch
	}
	return &planRetryJob{
		logg:    params.Logger,
		repo:    params.Repository,
		planner: params.Planner,
		batch:   batch,
	}, nil
}

type planRetryJob struct {
	logg    *logger.Logger
	repo    planRetryRepo
	planner planGenerator
	batch   int
}

func (j *planRetryJob) Name() string { return "installment-plan-retry" }

// Run re-attempts plan generation for eligible orders whose best-effort plan
// step failed at creation time. Generation is idempotent, so an order picked
// up twice never ends with a duplicate plan. Calculator-direct orders carry
// the charge reference taken before they existed; a regenerated plan must
// settle installment #1 with that reference rather than leave it billable
// a second time.
func (j *planRetryJob) Run(ctx context.Context) error {
	orders, err := j.repo.FindOrdersMissingPlan(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("find orders missing plan: %w", err)
	}

	var errs error
	retried := 0
	for _, order := range orders {
		logCtx := j.logg.WithField(ctx, "order_id", order.ID.String())
		if err := j.planner.GeneratePlan(ctx, order.ID); err != nil {
			j.logg.Error(logCtx, "plan retry failed", err)
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		if order.ExternalPaymentRef != nil && *order.ExternalPaymentRef != "" {
			if err := j.planner.ConfirmByNumber(ctx, order.ID, 1, *order.ExternalPaymentRef); err != nil {
				j.logg.Error(logCtx, "settling prepaid first installment failed", err)
				errs = multierr.Append(errs, fmt.Errorf("order %s: confirm installment 1: %w", order.ID, err))
				continue
			}
		}
		retried++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(orders),
		"recovered":  retried,
	})
	j.logg.Info(logCtx, "installment plan retry complete")
	return errs
}
