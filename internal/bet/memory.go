package bet

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"HouseLedger/internal/ledger"
	"HouseLedger/internal/money"
)

// MemStore is the in-memory Store used by unit tests and local
// development. Atomicity with the ledger comes from running the bet
// mutation inside the ledger's account lock, the same shape as the
// Postgres implementation's shared transaction.
type MemStore struct {
	mu     sync.Mutex
	bets   map[uuid.UUID]*Bet
	ledger *ledger.MemLedger

	// insertHook, when set, runs between the stake debit and the bet
	// insert. Tests inject failures here to prove neither half lands.
	insertHook func(*Bet) error
}

func NewMemStore(l *ledger.MemLedger) *MemStore {
	return &MemStore{
		bets:   make(map[uuid.UUID]*Bet),
		ledger: l,
	}
}

// SetInsertHook installs a hook called during CreateWithStake before
// the bet record is written.
func (s *MemStore) SetInsertHook(fn func(*Bet) error) {
	s.insertHook = fn
}

func (s *MemStore) CreateWithStake(ctx context.Context, b *Bet) (money.Amount, error) {
	return s.ledger.DebitForBetWith(ctx, b.Address, b.Amount, b.ID, func() error {
		if s.insertHook != nil {
			if err := s.insertHook(b); err != nil {
				return err
			}
		}
		clone := *b
		s.mu.Lock()
		s.bets[b.ID] = &clone
		s.mu.Unlock()
		return nil
	})
}

func (s *MemStore) DuePending(_ context.Context, now time.Time, limit int) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Bet
	for _, b := range s.bets {
		if b.Status == StatusPending && !b.Deadline.After(now) {
			due = append(due, *b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Deadline.Before(due[j].Deadline) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemStore) Resolve(ctx context.Context, id uuid.UUID, status Status, settledPrice money.Amount, payout money.Amount, settledAt time.Time) (bool, error) {
	s.mu.Lock()
	b, ok := s.bets[id]
	s.mu.Unlock()
	if !ok {
		return false, ErrNotFound
	}

	mark := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if b.Status != StatusPending {
			return errAlreadyResolved
		}
		b.Status = status
		b.SettledPrice = settledPrice
		b.Payout = payout
		b.SettledAt = settledAt
		return nil
	}

	var err error
	if status == StatusWon && payout > 0 {
		_, err = s.ledger.CreditForPayoutWith(ctx, b.Address, payout, id, mark)
	} else {
		err = mark()
	}
	if errors.Is(err, errAlreadyResolved) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var errAlreadyResolved = errors.New("bet already resolved")

func (s *MemStore) Get(_ context.Context, id uuid.UUID) (*Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (s *MemStore) History(_ context.Context, address string, limit int) ([]Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Bet
	for _, b := range s.bets {
		if b.Address == address {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.After(out[j].PlacedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
