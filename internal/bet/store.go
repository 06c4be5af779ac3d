package bet

import (
	"context"
	"time"

	"github.com/google/uuid"

	"HouseLedger/internal/money"
)

// Store persists bets and owns the two cross-record atomic units:
// admission (stake debit + bet insert) and resolution (status
// transition + payout credit).
type Store interface {
	// CreateWithStake debits the stake from the bettor's ledger account
	// and inserts the pending bet in one atomic unit. If either half
	// fails, neither happened. Returns the balance after the debit.
	CreateWithStake(ctx context.Context, b *Bet) (money.Amount, error)

	// DuePending returns pending bets whose deadline has passed, oldest
	// deadline first, at most limit.
	DuePending(ctx context.Context, now time.Time, limit int) ([]Bet, error)

	// Resolve moves a pending bet to a terminal status and, for a win,
	// credits the payout in the same atomic unit. Returns false without
	// error when the bet was already resolved, which makes duplicate
	// settlement triggers harmless.
	Resolve(ctx context.Context, id uuid.UUID, status Status, settledPrice money.Amount, payout money.Amount, settledAt time.Time) (bool, error)

	// Get returns one bet by id, ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*Bet, error)

	// History returns an address's bets, newest first, at most limit.
	History(ctx context.Context, address string, limit int) ([]Bet, error)
}
