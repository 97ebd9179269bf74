package models

import (
	"time"

	"github.com/google/uuid"
)

// User account statuses.
const (
	UserStatusActive    = "active"
	UserStatusWithdrawn = "withdrawn"
)

// User roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
