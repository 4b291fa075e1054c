package auth

import (
	"github.com/google/uuid"

	"github.com/rentiva/rentiva-backend/pkg/enums"
)

// Actor is the capability context resolved once per request and passed
// explicitly into every engine operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// IsAdmin reports whether the actor holds the administrator role.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.UserRoleAdmin
}

// Valid reports whether the actor carries an authenticated identity.
func (a Actor) Valid() bool {
	return a.UserID != uuid.Nil
}

// CanAccessOrderOf reports whether the actor may read or act on an order
// owned by ownerID.
func (a Actor) CanAccessOrderOf(ownerID uuid.UUID) bool {
	return a.IsAdmin() || a.UserID == ownerID
}
