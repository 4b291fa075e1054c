package installments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentiva/rentiva-backend/pkg/db/models"
	"github.com/rentiva/rentiva-backend/pkg/enums"
)

// Repository exposes persistence helpers for installment plans. Besides its
// own rows it owns two order columns: payment_status and plan_generated_at.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateBatch(ctx context.Context, installments []models.PaymentInstallment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentInstallment, error)
	FindByOrderAndNumber(ctx context.Context, orderID uuid.UUID, number int) (*models.PaymentInstallment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentInstallment, error)
	UpdateInstallment(ctx context.Context, id uuid.UUID, updates map[string]any) error
	// SettleInstallment applies updates only while the installment is not yet
	// COMPLETED; the returned row count distinguishes a lost race from success.
	SettleInstallment(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	HasInvoice(ctx context.Context, orderID uuid.UUID) (bool, error)
	CountInvoicesForYear(ctx context.Context, year int) (int64, error)
	FindPendingDueBefore(ctx context.Context, cutoff time.Time) ([]models.PaymentInstallment, error)
	FindOrdersMissingPlan(ctx context.Context, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an installments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateBatch(ctx context.Context, installments []models.PaymentInstallment) error {
	if len(installments) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&installments).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentInstallment, error) {
	var installment models.PaymentInstallment
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&installment).Error
	if err != nil {
		return nil, err
	}
	return &installment, nil
}

func (r *repository) FindByOrderAndNumber(ctx context.Context, orderID uuid.UUID, number int) (*models.PaymentInstallment, error) {
	var installment models.PaymentInstallment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND installment_number = ?", orderID, number).
		First(&installment).Error
	if err != nil {
		return nil, err
	}
	return &installment, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentInstallment, error) {
	var installments []models.PaymentInstallment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("installment_number ASC").
		Find(&installments).Error
	if err != nil {
		return nil, err
	}
	return installments, nil
}

func (r *repository) UpdateInstallment(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentInstallment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) SettleInstallment(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentInstallment{}).
		Where("id = ? AND status <> ?", id, enums.InstallmentStatusCompleted).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

func (r *repository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) HasInvoice(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CountInvoicesForYear(ctx context.Context, year int) (int64, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) FindPendingDueBefore(ctx context.Context, cutoff time.Time) ([]models.PaymentInstallment, error) {
	var installments []models.PaymentInstallment
	err := r.db.WithContext(ctx).
		Where("status = ? AND due_date <= ?", enums.InstallmentStatusPending, cutoff).
		Order("due_date ASC").
		Find(&installments).Error
	if err != nil {
		return nil, err
	}
	return installments, nil
}

// FindOrdersMissingPlan returns eligible, still-active orders whose
// best-effort plan generation never succeeded.
func (r *repository) FindOrdersMissingPlan(ctx context.Context, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("eligible_for_installments = ? AND plan_generated_at IS NULL AND status <> ?",
			true, enums.OrderStatusCancelled).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
