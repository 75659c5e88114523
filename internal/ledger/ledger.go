package ledger

import (
	"context"
	"time"
)

// Direction indicates whether points left or entered a user's balance.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Reason names the operation behind a point movement.
type Reason string

const (
	ReasonSignup     Reason = "signup"
	ReasonGeneration Reason = "generation"
	ReasonRefund     Reason = "refund"
	ReasonPurchase   Reason = "purchase"
	ReasonAdmin      Reason = "admin"
)

// Entry is a single append-only record of a point movement. The balance
// itself lives with the user; entries exist so operators can reconcile a
// charge against its refund after the fact.
type Entry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Points    int64     `json:"points"`
	Direction Direction `json:"direction"`
	Reason    Reason    `json:"reason"`
	// RequestID ties a generation debit to its refund.
	RequestID string    `json:"request_id,omitempty"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates point movements for a user.
type Summary struct {
	DebitedPoints  int64 `json:"debited_points"`
	CreditedPoints int64 `json:"credited_points"`
	NetPoints      int64 `json:"net_points"`
}

// Store defines persistence behaviour for the audit ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, userID int64) (Summary, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]Entry, error)
	Close() error
}
