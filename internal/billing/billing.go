// Package billing records point-purchase transactions and their
// confirmation. Confirmation is the only place in the system that needs a
// multi-table atomic write: the buyer's balance credit and the status flip
// commit together or not at all.
package billing

import (
	"context"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/pricing"
)

// Status captures a transaction's resolution.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	// StatusFailed is representable but no code path sets it; its trigger
	// is owned by the payment provider's webhook contract.
	StatusFailed Status = "FAILED"
)

// Transaction is a point-purchase record. Points and Price are snapshots of
// the package at creation time; later pricing edits never alter them.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	PackageID   string    `json:"package_id"`
	Points      int64     `json:"points"`
	Price       int64     `json:"price"`
	Status      Status    `json:"status"`
	Provider    string    `json:"provider"`
	ProviderRef string    `json:"provider_ref"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	// ErrNotFound signals an unknown transaction id.
	ErrNotFound = apperr.New(apperr.NotFound, "transaction not found")
	// ErrNotOwner signals a caller that does not own the transaction.
	ErrNotOwner = apperr.New(apperr.Forbidden, "transaction belongs to another account")
	// ErrNotConfirmable signals a terminal non-completed status (e.g. FAILED).
	ErrNotConfirmable = apperr.New(apperr.Conflict, "transaction can no longer be confirmed")
)

// ConfirmResult reports the outcome of a confirmation call.
type ConfirmResult struct {
	Status Status
	// Points is the owner's balance after confirmation.
	Points int64
	// AlreadyCompleted is true when this call found the transaction already
	// confirmed and credited nothing.
	AlreadyCompleted bool
}

// Store persists purchase transactions.
type Store interface {
	// Create opens a PENDING transaction snapshotting the package.
	Create(ctx context.Context, userID int64, pkg pricing.Package, provider string) (*Transaction, error)
	// Get loads a transaction, enforcing that callerID owns it.
	Get(ctx context.Context, id string, callerID int64) (*Transaction, error)
	// Confirm credits the snapshotted points to the owner and marks the
	// transaction COMPLETED in one atomic unit. Confirming a COMPLETED
	// transaction is a no-op that reports the current balance.
	Confirm(ctx context.Context, id string, callerID int64) (ConfirmResult, error)
	Close() error
}
