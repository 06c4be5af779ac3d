package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"HouseLedger/internal/money"
)

// MemLedger is an in-memory Ledger with the same semantics as the
// Postgres implementation. Used by unit tests and local development.
//
// Each account carries its own mutex, so operations on one address are
// strictly serialized while other addresses proceed in parallel.
type MemLedger struct {
	mu       sync.Mutex // guards accounts, seen, nextID
	accounts map[string]*memAccount
	seen     map[string]struct{} // operation:txHash pairs already applied
	nextID   int64
}

type memAccount struct {
	mu      sync.Mutex
	address string
	balance money.Amount
	entries []AuditEntry
	updated time.Time
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		accounts: make(map[string]*memAccount),
		seen:     make(map[string]struct{}),
	}
}

// account returns the account for address, creating it lazily at zero.
func (l *MemLedger) account(address string) *memAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		acct = &memAccount{address: address}
		l.accounts[address] = acct
	}
	return acct
}

func (l *MemLedger) Balance(_ context.Context, address string) (money.Amount, error) {
	l.mu.Lock()
	acct, ok := l.accounts[address]
	l.mu.Unlock()
	if !ok {
		return 0, nil
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.balance, nil
}

func (l *MemLedger) CreditForDeposit(_ context.Context, address string, amount money.Amount, txHash string) (money.Amount, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	acct := l.account(address)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if err := l.claimTxHash(OpDeposit, txHash); err != nil {
		return acct.balance, err
	}

	l.apply(acct, AuditEntry{
		Operation: OpDeposit,
		Amount:    amount,
		TxHash:    txHash,
	}, acct.balance+amount)
	return acct.balance, nil
}

func (l *MemLedger) DebitForWithdrawal(_ context.Context, address string, amount money.Amount, txHash string) (money.Amount, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	acct := l.account(address)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	// Dedupe before the funds check: a redelivered, already-applied
	// withdrawal is a duplicate even if the balance has since dropped
	// below the amount.
	if l.txHashSeen(OpWithdrawal, txHash) {
		return acct.balance, ErrDuplicateTransaction
	}
	if acct.balance < amount {
		return acct.balance, ErrInsufficientFunds
	}
	if err := l.claimTxHash(OpWithdrawal, txHash); err != nil {
		return acct.balance, err
	}

	l.apply(acct, AuditEntry{
		Operation: OpWithdrawal,
		Amount:    amount,
		TxHash:    txHash,
	}, acct.balance-amount)
	return acct.balance, nil
}

func (l *MemLedger) DebitForBet(ctx context.Context, address string, amount money.Amount, betID uuid.UUID) (money.Amount, error) {
	return l.DebitForBetWith(ctx, address, amount, betID, nil)
}

// DebitForBetWith debits the stake and, while still holding the account
// lock, runs fn. If fn fails the debit is discarded and no audit entry
// is written. This is how the in-memory bet store keeps stake debit and
// bet insert atomic.
func (l *MemLedger) DebitForBetWith(_ context.Context, address string, amount money.Amount, betID uuid.UUID, fn func() error) (money.Amount, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	acct := l.account(address)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.balance < amount {
		return acct.balance, ErrInsufficientFunds
	}
	if fn != nil {
		if err := fn(); err != nil {
			return acct.balance, err
		}
	}

	l.apply(acct, AuditEntry{
		Operation: OpBetPlaced,
		Amount:    amount,
		BetID:     betID,
	}, acct.balance-amount)
	return acct.balance, nil
}

func (l *MemLedger) CreditForPayout(ctx context.Context, address string, amount money.Amount, betID uuid.UUID) (money.Amount, error) {
	return l.CreditForPayoutWith(ctx, address, amount, betID, nil)
}

// CreditForPayoutWith credits winnings and runs fn under the account
// lock, mirroring DebitForBetWith for the settlement path.
func (l *MemLedger) CreditForPayoutWith(_ context.Context, address string, amount money.Amount, betID uuid.UUID, fn func() error) (money.Amount, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	acct := l.account(address)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if fn != nil {
		if err := fn(); err != nil {
			return acct.balance, err
		}
	}

	l.apply(acct, AuditEntry{
		Operation: OpBetWon,
		Amount:    amount,
		BetID:     betID,
	}, acct.balance+amount)
	return acct.balance, nil
}

func (l *MemLedger) AuditTrail(_ context.Context, address string, limit int) ([]AuditEntry, error) {
	l.mu.Lock()
	acct, ok := l.accounts[address]
	l.mu.Unlock()
	if !ok {
		return nil, nil
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	n := len(acct.entries)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, acct.entries[i])
	}
	return out, nil
}

func (l *MemLedger) TotalBalance(_ context.Context) (money.Amount, error) {
	l.mu.Lock()
	accts := make([]*memAccount, 0, len(l.accounts))
	for _, acct := range l.accounts {
		accts = append(accts, acct)
	}
	l.mu.Unlock()

	var total money.Amount
	for _, acct := range accts {
		acct.mu.Lock()
		total += acct.balance
		acct.mu.Unlock()
	}
	return total, nil
}

// VerifyChain replays the audit chain for an address and checks every
// link against the live balance.
func (l *MemLedger) VerifyChain(ctx context.Context, address string) error {
	entries, err := l.AuditTrail(ctx, address, 0)
	if err != nil {
		return err
	}

	// AuditTrail is newest first; replay wants oldest first.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	balance, err := l.Balance(ctx, address)
	if err != nil {
		return err
	}
	return verifyEntries(address, entries, balance)
}

func (l *MemLedger) txHashSeen(op OperationType, txHash string) bool {
	key := string(op) + ":" + txHash
	l.mu.Lock()
	defer l.mu.Unlock()
	_, dup := l.seen[key]
	return dup
}

// claimTxHash records a chain tx hash as applied. Callers hold the
// account lock, so the claim and the balance change commit together.
func (l *MemLedger) claimTxHash(op OperationType, txHash string) error {
	key := string(op) + ":" + txHash
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[key]; dup {
		return ErrDuplicateTransaction
	}
	l.seen[key] = struct{}{}
	return nil
}

// apply commits the entry and the new balance. Caller holds acct.mu.
func (l *MemLedger) apply(acct *memAccount, entry AuditEntry, newBalance money.Amount) {
	l.mu.Lock()
	l.nextID++
	entry.ID = l.nextID
	l.mu.Unlock()

	entry.Address = acct.address
	entry.BalanceBefore = acct.balance
	entry.BalanceAfter = newBalance
	entry.CreatedAt = time.Now()

	acct.balance = newBalance
	acct.updated = entry.CreatedAt
	acct.entries = append(acct.entries, entry)
}

// verifyEntries checks an oldest-first audit chain against the live
// balance. Shared by the in-memory and Postgres verifiers.
func verifyEntries(address string, entries []AuditEntry, live money.Amount) error {
	var prev money.Amount
	for _, e := range entries {
		if e.BalanceBefore != prev {
			return fmt.Errorf("audit chain broken for %s at entry %d: balance_before %s, previous balance_after %s",
				address, e.ID, e.BalanceBefore, prev)
		}

		var want money.Amount
		switch e.Operation {
		case OpDeposit, OpBetWon:
			want = e.BalanceBefore + e.Amount
		case OpWithdrawal, OpBetPlaced:
			want = e.BalanceBefore - e.Amount
		default:
			return fmt.Errorf("audit chain for %s: unknown operation %q at entry %d", address, e.Operation, e.ID)
		}
		if e.BalanceAfter != want {
			return fmt.Errorf("audit chain for %s: entry %d %s applies %s to %s but records %s",
				address, e.ID, e.Operation, e.Amount, e.BalanceBefore, e.BalanceAfter)
		}
		if e.BalanceAfter < 0 {
			return fmt.Errorf("audit chain for %s: entry %d leaves negative balance %s", address, e.ID, e.BalanceAfter)
		}

		prev = e.BalanceAfter
	}

	if prev != live {
		return fmt.Errorf("audit chain for %s ends at %s but live balance is %s", address, prev, live)
	}
	return nil
}
