package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"HouseLedger/internal/money"
)

// OperationType identifies what moved a balance. Every audit entry
// carries exactly one.
type OperationType string

const (
	OpDeposit    OperationType = "deposit"
	OpWithdrawal OperationType = "withdrawal"
	OpBetPlaced  OperationType = "bet_placed"
	OpBetWon     OperationType = "bet_won"
)

// Account is the house-side balance for one on-chain address.
// Balance never goes negative.
type Account struct {
	Address   string
	Balance   money.Amount
	UpdatedAt time.Time
}

// AuditEntry is one link in an account's append-only audit chain.
// For any two consecutive entries of the same account, BalanceAfter of
// the earlier equals BalanceBefore of the later.
type AuditEntry struct {
	ID            int64
	Address       string
	Operation     OperationType
	Amount        money.Amount
	BalanceBefore money.Amount
	BalanceAfter  money.Amount
	TxHash        string    // chain transaction, empty for bet operations
	BetID         uuid.UUID // zero for chain operations
	CreatedAt     time.Time
}

var (
	// ErrInvalidAmount rejects zero or negative operation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds rejects a debit that would take the balance
	// below zero. The account is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction marks a chain operation whose tx hash was
	// already applied. Callers treat it as success; the balance did not
	// change a second time.
	ErrDuplicateTransaction = errors.New("transaction already applied")
)
