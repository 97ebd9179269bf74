package models

import (
	"time"

	"github.com/google/uuid"
)

// Change methods for a ledger mutation. The sign of a mutation is implied
// by the method; Amount is always non-negative.
const (
	ChangeMethodIncrement = "increment"
	ChangeMethodDecrement = "decrement"
	ChangeMethodSet       = "set"
)

// Source types recorded on every history entry.
const (
	SourceUserAction  = "user_action"
	SourceAdminAction = "admin_action"
	SourceSystem      = "system"
)

// Currency types known to the console. Wallets are keyed by
// (user_id, currency_type); new types need no schema change.
const (
	CurrencyCoin  = "coin"
	CurrencyPoint = "point"
)

// Wallet is the current balance for one (user, currency type) pair.
// LockedBalance is reserved for a future hold feature and is never
// mutated by the ledger; the invariant 0 <= locked <= balance holds at
// every committed state.
type Wallet struct {
	UserID        uuid.UUID `json:"user_id"`
	CurrencyType  string    `json:"currency_type"`
	Balance       int64     `json:"balance"`
	LockedBalance int64     `json:"locked_balance"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HistoryEntry is the immutable audit record of one balance mutation.
// Entries are insert-only; balance_before/balance_after capture the exact
// values observed under the wallet row lock. There is deliberately no
// foreign key to users so history survives account deletion.
type HistoryEntry struct {
	ID            uuid.UUID      `json:"id"`
	UserID        uuid.UUID      `json:"user_id"`
	CurrencyType  string         `json:"currency_type"`
	ChangeMethod  string         `json:"change_method"`
	Delta         int64          `json:"delta"`
	BalanceBefore int64          `json:"balance_before"`
	BalanceAfter  int64          `json:"balance_after"`
	SourceType    string         `json:"source_type"`
	BatchID       *uuid.UUID     `json:"batch_id,omitempty"`
	Reason        string         `json:"reason"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// BatchSummary is the read-side view of one logical multi-step operation:
// all history entries sharing a batch id (or a single entry with no batch
// id). It is computed on read and never persisted.
type BatchSummary struct {
	BatchID       string          `json:"batch_id"`
	EntryCount    int             `json:"entry_count"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   time.Time       `json:"completed_at"`
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
	TotalDelta    int64           `json:"total_delta"`
	ChangeMethods []string        `json:"change_methods"`
	SourceTypes   []string        `json:"source_types"`
	Entries       []*HistoryEntry `json:"entries"`
}
