package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentiva/rentiva-backend/pkg/enums"
)

// CreateItemInput is one requested rental line.
type CreateItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	StartDate time.Time
	EndDate   time.Time
}

// CreateOrderInput carries the standard creation payload.
type CreateOrderInput struct {
	Items           []CreateItemInput
	Discount        decimal.Decimal
	DeliveryAddress *string
	Notes           *string
}

// CalculatorOrderInput is the quick-quote creation path. The caller may
// already hold a successful gateway charge taken before the order existed.
type CalculatorOrderInput struct {
	CreateOrderInput
	ExternalPaymentIntentID string
}

// AdminEditInput restricts admin field edits to the delivery metadata.
type AdminEditInput struct {
	DeliveryAddress *string
	Notes           *string
}

// ListParams configures the order listing. Non-admin callers are always
// scoped to their own orders; the filters are admin-only.
type ListParams struct {
	Status        *enums.OrderStatus
	PaymentStatus *enums.PaymentStatus
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Search        string
	Limit         int
	Cursor        string
}
