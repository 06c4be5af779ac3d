package ledger

import (
	"context"

	"github.com/google/uuid"

	"HouseLedger/internal/money"
)

// Ledger is the authoritative balance store. All mutations are atomic:
// the balance change and its audit entry land together or not at all.
// Operations on the same address are strictly serialized; operations on
// different addresses may proceed concurrently.
//
// Unknown addresses read as zero balance.
type Ledger interface {
	// Balance returns the current balance for an address.
	Balance(ctx context.Context, address string) (money.Amount, error)

	// CreditForDeposit applies a confirmed on-chain deposit. Idempotent
	// on txHash: a repeat returns ErrDuplicateTransaction and leaves the
	// balance unchanged.
	CreditForDeposit(ctx context.Context, address string, amount money.Amount, txHash string) (money.Amount, error)

	// DebitForWithdrawal applies a confirmed on-chain withdrawal.
	// Idempotent on txHash. Fails with ErrInsufficientFunds rather than
	// go negative.
	DebitForWithdrawal(ctx context.Context, address string, amount money.Amount, txHash string) (money.Amount, error)

	// DebitForBet removes a bet stake from the balance.
	DebitForBet(ctx context.Context, address string, amount money.Amount, betID uuid.UUID) (money.Amount, error)

	// CreditForPayout adds winnings for a settled bet.
	CreditForPayout(ctx context.Context, address string, amount money.Amount, betID uuid.UUID) (money.Amount, error)

	// AuditTrail returns the newest entries for an address, most recent
	// first, at most limit rows.
	AuditTrail(ctx context.Context, address string, limit int) ([]AuditEntry, error)

	// TotalBalance sums every account balance.
	TotalBalance(ctx context.Context) (money.Amount, error)
}

// Verifier is implemented by ledgers that can replay an audit chain.
type Verifier interface {
	// VerifyChain replays the audit chain for an address oldest first
	// and checks that each entry's BalanceAfter matches its operation
	// applied to BalanceBefore, that consecutive entries link up, and
	// that the final entry matches the live balance.
	VerifyChain(ctx context.Context, address string) error
}
