package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice is issued once an order's total is fully settled.
type Invoice struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	InvoiceNumber string          `gorm:"column:invoice_number;type:text;not null;uniqueIndex"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	IssuedAt      time.Time       `gorm:"column:issued_at;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}
