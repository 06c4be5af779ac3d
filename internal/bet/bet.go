package bet

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"HouseLedger/internal/money"
)

// Direction is the side of an up/down bet.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Status is the bet lifecycle. Pending is the only non-terminal state;
// won and lost are final and a bet reaches one of them exactly once.
type Status string

const (
	StatusPending Status = "pending"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
)

// Bet is one admitted wager. PriceTarget is the signed delta relative
// to ReferencePrice the price must reach by Deadline: positive for up
// bets, negative for down bets.
type Bet struct {
	ID             uuid.UUID
	Address        string
	Amount         money.Amount
	Direction      Direction
	Multiplier     int64 // fixed point, money.MultiplierScale
	PriceTarget    money.Amount
	ReferencePrice money.Amount
	PlacedAt       time.Time
	Deadline       time.Time
	Status         Status
	Payout         money.Amount
	SettledPrice   money.Amount
	SettledAt      time.Time
}

var (
	// ErrInvalidTarget rejects a target/direction combination that can
	// never be judged: zero target, wrong sign for the direction, or a
	// multiplier at or below 1x.
	ErrInvalidTarget = errors.New("invalid bet target")

	// ErrNotFound marks a bet id with no record.
	ErrNotFound = errors.New("bet not found")
)

// Outcome judges a settled price against the bet's target. Equality
// counts in the bettor's favor on both sides.
func (b *Bet) Outcome(settled money.Amount) Status {
	delta := settled - b.ReferencePrice
	switch b.Direction {
	case DirectionUp:
		if delta >= b.PriceTarget {
			return StatusWon
		}
	case DirectionDown:
		if delta <= b.PriceTarget {
			return StatusWon
		}
	}
	return StatusLost
}

// WinPayout is the amount credited when the bet wins.
func (b *Bet) WinPayout() money.Amount {
	return money.MulMultiplier(b.Amount, b.Multiplier)
}
