package user

import (
	"context"
	"time"

	"github.com/linkwell/linkwell/internal/apperr"
)

// Role names understood by the identity layer. The messaging core does not
// branch on role.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User is an account of the identity collaborator.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	ErrUserNotFound   = apperr.New(apperr.KindNotFound, "", "user not found")
	ErrDuplicateEmail = apperr.New(apperr.KindConflict, "", "email already registered")
)

// Store defines user persistence operations.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
}
