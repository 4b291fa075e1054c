package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem is one rented product line inside an order.
type OrderItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	ProductName string          `gorm:"column:product_name;type:text;not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	PricePerDay decimal.Decimal `gorm:"column:price_per_day;type:numeric(12,2);not null"`
	StartDate   time.Time       `gorm:"column:start_date;not null"`
	EndDate     time.Time       `gorm:"column:end_date;not null"`
	Days        int             `gorm:"column:days;not null"`
	Subtotal    decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}
