package event

import (
	"errors"
	"fmt"
	"time"

	"HouseLedger/internal/money"
)

// Kind discriminates confirmed chain events on the feed.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTreasury   Kind = "treasury"
)

// ChainEvent is one confirmed on-chain observation. The feed delivers
// at least once; TxHash is the idempotency key for deposit and
// withdrawal events.
type ChainEvent struct {
	Kind      Kind         `json:"kind"`
	Address   string       `json:"address"`
	Amount    money.Amount `json:"amount"`
	TxHash    string       `json:"tx_hash"`
	Timestamp time.Time    `json:"timestamp"`
}

// ErrMalformed marks an event that can never be applied. Malformed
// events are logged and dropped, never retried.
var ErrMalformed = errors.New("malformed chain event")

// Validate checks the fields an event needs before it can touch the
// ledger. Treasury events carry no address or tx hash.
func (e ChainEvent) Validate() error {
	switch e.Kind {
	case KindDeposit, KindWithdrawal:
		if e.Address == "" {
			return fmt.Errorf("%w: missing address", ErrMalformed)
		}
		if e.TxHash == "" {
			return fmt.Errorf("%w: missing tx hash", ErrMalformed)
		}
		if e.Amount <= 0 {
			return fmt.Errorf("%w: non-positive amount %d", ErrMalformed, e.Amount)
		}
	case KindTreasury:
		if e.Amount < 0 {
			return fmt.Errorf("%w: negative treasury balance %d", ErrMalformed, e.Amount)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, e.Kind)
	}
	return nil
}
