package userstore

import (
	"context"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
)

// Role represents a capability level within the service.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// RootAdminID is the fixed identifier of the configuration-supplied root
// admin. The root admin is never persisted and never holds points.
const RootAdminID int64 = 0

// User is a registered teacher account (or the in-memory root admin).
type User struct {
	ID            int64
	Email         string
	Role          Role
	Points        int64
	PasswordHash  string
	ResetTokenSum string
	ResetExpires  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

var (
	// ErrNotFound signals a lookup miss on a user id or email.
	ErrNotFound = apperr.New(apperr.NotFound, "user not found")
	// ErrEmailTaken signals a duplicate registration.
	ErrEmailTaken = apperr.New(apperr.Conflict, "email already registered")
	// ErrInsufficientPoints signals a debit larger than the stored balance.
	ErrInsufficientPoints = apperr.New(apperr.InsufficientPoints, "points balance is insufficient")
	// ErrResetTokenInvalid signals an unknown or expired password-reset token.
	ErrResetTokenInvalid = apperr.New(apperr.Unauthenticated, "reset token is invalid or expired")
)

// Store persists user accounts and their point balances.
//
// Debit and Credit are the only balance mutations the request path may use;
// both apply against the freshest stored balance, never a value carried in
// from earlier in the request.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string, initialPoints int64) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// ListUsers returns all non-admin accounts ordered by creation time.
	ListUsers(ctx context.Context) ([]User, error)

	// Debit subtracts amount from the user's balance and returns the new
	// balance. Fails with ErrInsufficientPoints when the stored balance is
	// below amount, leaving it unchanged.
	Debit(ctx context.Context, id int64, amount int64) (int64, error)
	// Credit adds amount to the user's balance and returns the new balance.
	Credit(ctx context.Context, id int64, amount int64) (int64, error)
	// SetPoints overwrites the balance outright (admin operation).
	SetPoints(ctx context.Context, id int64, points int64) (int64, error)

	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	// SetResetToken stores the SHA-256 sum of an issued reset token.
	SetResetToken(ctx context.Context, id int64, tokenSum string, expires time.Time) error
	// ConsumeResetToken atomically looks up a live token by its sum, clears
	// it, and rewrites the password hash.
	ConsumeResetToken(ctx context.Context, tokenSum, passwordHash string) (*User, error)

	Close() error
}
