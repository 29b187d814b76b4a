package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles a user can hold. Admins and editors are internal staff and bypass
// metering entirely; subscribers are the metered tier.
const (
	RoleAdmin      = "admin"
	RoleEditor     = "editor"
	RoleSubscriber = "subscriber"
)

// User represents an account that can sign in to the gateway.
type User struct {
	ID           uuid.UUID `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Name         *string   `db:"name"`
	Role         string    `db:"role"`
	PlanID       *string   `db:"plan_id"` // NULL = no plan assigned
	CreatedAt    time.Time `db:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsMetered reports whether the user's generation calls are billed against a
// credit balance. Internal staff roles are never metered.
func (u *User) IsMetered() bool {
	return u.Role == RoleSubscriber
}
