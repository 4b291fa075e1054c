package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentiva/rentiva-backend/pkg/enums"
)

// PaymentInstallment is one scheduled partial payment against an order's
// total. Installment numbers are contiguous starting at 1 per order.
type PaymentInstallment struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex:idx_installments_order_number"`
	InstallmentNumber int                     `gorm:"column:installment_number;not null;uniqueIndex:idx_installments_order_number"`
	Amount            decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	DueDate           time.Time               `gorm:"column:due_date;not null"`
	Status            enums.InstallmentStatus `gorm:"column:status;type:installment_status;not null;default:'PENDING'"`
	GatewayIntentID   *string                 `gorm:"column:gateway_intent_id;type:text"`
	GatewayChargeID   *string                 `gorm:"column:gateway_charge_id;type:text"`
	PaidAt            *time.Time              `gorm:"column:paid_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
