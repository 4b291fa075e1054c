package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentiva/rentiva-backend/pkg/enums"
)

// Order is the aggregate root of a rental. Its three status columns evolve
// independently: status is owned by the lifecycle manager, payment_status by
// the installment tracker and deposit_status by the deposit sub-ledger.
type Order struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber string         `gorm:"column:order_number;type:text;not null;uniqueIndex"`
	UserID      uuid.UUID      `gorm:"column:user_id;type:uuid;not null;index"`
	Currency    enums.Currency `gorm:"column:currency;type:text;not null;default:'EUR'"`

	Status        enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'PENDING'"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'PENDING'"`
	DepositStatus enums.DepositStatus `gorm:"column:deposit_status;type:deposit_status;not null;default:'PENDING'"`

	Subtotal       decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);not null;default:0"`
	TaxAmount      decimal.Decimal `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	Total          decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null"`
	DepositAmount  decimal.Decimal `gorm:"column:deposit_amount;type:numeric(12,2);not null"`

	EligibleForInstallments bool `gorm:"column:eligible_for_installments;not null;default:false"`
	IsCalculatorEvent       bool `gorm:"column:is_calculator_event;not null;default:false"`

	// ExternalPaymentRef holds the gateway charge taken before a
	// calculator-direct order existed. It survives a failed plan generation so
	// the reconciliation sweep can settle installment #1 without a new charge.
	ExternalPaymentRef *string `gorm:"column:external_payment_ref;type:text"`

	DeliveryAddress *string `gorm:"column:delivery_address;type:text"`
	Notes           *string `gorm:"column:notes;type:text"`

	// PlanGeneratedAt is NULL while an eligible order still has no installment
	// plan, which makes the failed best-effort generation visible to the
	// reconciliation sweep.
	PlanGeneratedAt *time.Time `gorm:"column:plan_generated_at"`

	DepositChargeID       *string          `gorm:"column:deposit_charge_id;type:text"`
	DepositRefundID       *string          `gorm:"column:deposit_refund_id;type:text"`
	DepositRetainedAmount *decimal.Decimal `gorm:"column:deposit_retained_amount;type:numeric(12,2)"`
	DepositNotes          *string          `gorm:"column:deposit_notes;type:text"`

	ReturnedAt  *time.Time `gorm:"column:returned_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	Items        []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment      *Payment             `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Invoice      *Invoice             `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Installments []PaymentInstallment `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
