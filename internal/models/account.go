package models

import (
	"time"
)

// Ledger entry types. Entries are append-only; an account balance is never
// touched except alongside one of these.
const (
	EntryPurchase      = "purchase"
	EntryWithdrawal    = "withdrawal"
	EntrySettlement    = "settlement"
	EntryEscrowHold    = "escrow_hold"
	EntryEscrowRelease = "escrow_release"
	EntryReversal      = "reversal"
)

const (
	EntryStatusPending   = "pending"
	EntryStatusCompleted = "completed"
	EntryStatusFailed    = "failed"
)

type Account struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	AvailableBalance int64     `json:"available_balance" db:"available_balance"` // in cents
	PendingBalance   int64     `json:"pending_balance" db:"pending_balance"`     // in cents
	Version          int       `json:"version" db:"version"`                     // for optimistic locking
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

type LedgerEntry struct {
	ID             int       `json:"id" db:"id"`
	AccountID      string    `json:"account_id" db:"account_id"`
	EntryType      string    `json:"entry_type" db:"entry_type"`
	Amount         int64     `json:"amount" db:"amount"` // signed, in cents
	BalanceAfter   int64     `json:"balance_after" db:"balance_after"`
	RelatedOrderID string    `json:"related_order_id,omitempty" db:"related_order_id"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

const (
	WithdrawalPending   = "PENDING"
	WithdrawalCompleted = "COMPLETED"
	WithdrawalFailed    = "FAILED"
)

type Withdrawal struct {
	ID                  string    `json:"id" db:"id"`
	AccountID           string    `json:"account_id" db:"account_id"`
	Amount              int64     `json:"amount" db:"amount"` // in cents
	DestinationBankCode string    `json:"destination_bank_code" db:"destination_bank_code"`
	DestinationAccount  string    `json:"destination_account" db:"destination_account"`
	Status              string    `json:"status" db:"status"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
