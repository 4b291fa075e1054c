package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rentiva/rentiva-backend/pkg/enums"
)

// User mirrors the externally-managed account record; the engine only reads
// it for notification fan-out and ownership checks.
type User struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email       string         `gorm:"column:email;type:text;not null;uniqueIndex"`
	Name        string         `gorm:"column:name;type:text;not null"`
	Role        enums.UserRole `gorm:"column:role;type:user_role;not null;default:'CUSTOMER'"`
	CustomerRef *string        `gorm:"column:customer_ref;type:text"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
