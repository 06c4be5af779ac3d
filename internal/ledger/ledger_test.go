package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"HouseLedger/internal/money"
)

func TestDepositIdempotent(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	balance, err := l.CreditForDeposit(ctx, "addr1", money.FromUnits(100), "0xaaa")
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if balance != money.FromUnits(100) {
		t.Fatalf("balance after deposit = %s, want 100", balance)
	}

	// Redelivery of the same tx hash must not credit twice.
	balance, err = l.CreditForDeposit(ctx, "addr1", money.FromUnits(100), "0xaaa")
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("duplicate deposit err = %v, want ErrDuplicateTransaction", err)
	}
	if balance != money.FromUnits(100) {
		t.Errorf("balance after duplicate = %s, want 100", balance)
	}

	entries, _ := l.AuditTrail(ctx, "addr1", 0)
	if len(entries) != 1 {
		t.Errorf("audit entries = %d, want 1", len(entries))
	}
}

func TestWithdrawalIdempotent(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	if _, err := l.CreditForDeposit(ctx, "addr1", money.FromUnits(100), "0xdep"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.DebitForWithdrawal(ctx, "addr1", money.FromUnits(40), "0xwd"); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	balance, err := l.DebitForWithdrawal(ctx, "addr1", money.FromUnits(40), "0xwd")
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("duplicate withdrawal err = %v, want ErrDuplicateTransaction", err)
	}
	if balance != money.FromUnits(60) {
		t.Errorf("balance after duplicate withdrawal = %s, want 60", balance)
	}
}

func TestDuplicateWithdrawalAfterFullSpend(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	if _, err := l.CreditForDeposit(ctx, "addr1", money.FromUnits(100), "0xdep"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.DebitForWithdrawal(ctx, "addr1", money.FromUnits(100), "0xwd"); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	// Redelivery after the balance dropped to zero is still a
	// duplicate, not an insufficient-funds failure.
	balance, err := l.DebitForWithdrawal(ctx, "addr1", money.FromUnits(100), "0xwd")
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("redelivered applied withdrawal: err = %v, want ErrDuplicateTransaction", err)
	}
	if balance != 0 {
		t.Errorf("balance = %s, want 0", balance)
	}

	entries, _ := l.AuditTrail(ctx, "addr1", 0)
	if len(entries) != 2 {
		t.Errorf("audit entries = %d, want 2", len(entries))
	}
}

func TestSameHashDifferentOperations(t *testing.T) {
	// A deposit and a withdrawal may legitimately share a tx hash;
	// idempotence is scoped per operation type.
	l := NewMemLedger()
	ctx := context.Background()

	if _, err := l.CreditForDeposit(ctx, "addr1", money.FromUnits(100), "0xsame"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.DebitForWithdrawal(ctx, "addr1", money.FromUnits(30), "0xsame"); err != nil {
		t.Fatalf("withdrawal with same hash: %v", err)
	}
}

func TestInsufficientFunds(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	if _, err := l.CreditForDeposit(ctx, "addr1", money.FromUnits(10), "0xdep"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	balance, err := l.DebitForWithdrawal(ctx, "addr1", money.FromUnits(11), "0xwd")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if balance != money.FromUnits(10) {
		t.Errorf("balance after rejected debit = %s, want 10", balance)
	}

	entries, _ := l.AuditTrail(ctx, "addr1", 0)
	if len(entries) != 1 {
		t.Errorf("rejected debit wrote an audit entry: %d entries, want 1", len(entries))
	}
}

func TestInvalidAmount(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	if _, err := l.CreditForDeposit(ctx, "addr1", 0, "0x1"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero deposit err = %v, want ErrInvalidAmount", err)
	}
	if _, err := l.DebitForBet(ctx, "addr1", -1, uuid.New()); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative bet debit err = %v, want ErrInvalidAmount", err)
	}
}

func TestUnknownAddressReadsZero(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	balance, err := l.Balance(ctx, "never-seen")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %s, want 0", balance)
	}

	// Debit against an unknown address fails, it does not create debt.
	if _, err := l.DebitForBet(ctx, "never-seen", money.FromUnits(1), uuid.New()); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestAuditChainConsistency(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	l.CreditForDeposit(ctx, "addr1", money.FromUnits(100), "0x1")
	l.DebitForBet(ctx, "addr1", money.FromUnits(25), uuid.New())
	l.CreditForPayout(ctx, "addr1", money.FromUnits(50), uuid.New())
	l.DebitForWithdrawal(ctx, "addr1", money.FromUnits(60), "0x2")

	if err := l.VerifyChain(ctx, "addr1"); err != nil {
		t.Fatalf("verify chain: %v", err)
	}

	balance, _ := l.Balance(ctx, "addr1")
	if balance != money.FromUnits(65) {
		t.Errorf("balance = %s, want 65", balance)
	}
}

func TestVerifyChainCatchesCorruption(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	l.CreditForDeposit(ctx, "addr1", money.FromUnits(100), "0x1")
	l.DebitForWithdrawal(ctx, "addr1", money.FromUnits(20), "0x2")

	// Corrupt a link in the chain.
	acct := l.account("addr1")
	acct.mu.Lock()
	acct.entries[1].BalanceBefore += 1
	acct.mu.Unlock()

	if err := l.VerifyChain(ctx, "addr1"); err == nil {
		t.Error("corrupted chain passed verification")
	}
}

func TestConcurrentDebitsSingleWinner(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	if _, err := l.CreditForDeposit(ctx, "addr1", money.FromUnits(100), "0xdep"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Two concurrent full-balance debits: exactly one may win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.DebitForBet(ctx, "addr1", money.FromUnits(100), uuid.New())
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrInsufficientFunds):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Errorf("winners = %d, losers = %d, want exactly 1 and 1", won, lost)
	}

	balance, _ := l.Balance(ctx, "addr1")
	if balance != 0 {
		t.Errorf("balance = %s, want 0", balance)
	}
	if err := l.VerifyChain(ctx, "addr1"); err != nil {
		t.Errorf("verify chain after race: %v", err)
	}
}

func TestConcurrentMixedOperations(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	addrs := []string{"a", "b", "c", "d"}
	for _, addr := range addrs {
		if _, err := l.CreditForDeposit(ctx, addr, money.FromUnits(1000), "seed-"+addr); err != nil {
			t.Fatalf("seed %s: %v", addr, err)
		}
	}

	var wg sync.WaitGroup
	for _, addr := range addrs {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				l.DebitForBet(ctx, addr, money.FromUnits(10), uuid.New())
			}(addr)
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				l.CreditForPayout(ctx, addr, money.FromUnits(10), uuid.New())
			}(addr)
		}
	}
	wg.Wait()

	for _, addr := range addrs {
		if err := l.VerifyChain(ctx, addr); err != nil {
			t.Errorf("verify %s: %v", addr, err)
		}
		balance, _ := l.Balance(ctx, addr)
		if balance != money.FromUnits(1000) {
			t.Errorf("balance %s = %s, want 1000", addr, balance)
		}
	}

	total, _ := l.TotalBalance(ctx)
	if total != money.FromUnits(4000) {
		t.Errorf("total = %s, want 4000", total)
	}
}

func TestAuditTrailNewestFirst(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	l.CreditForDeposit(ctx, "addr1", money.FromUnits(10), "0x1")
	l.CreditForDeposit(ctx, "addr1", money.FromUnits(20), "0x2")
	l.CreditForDeposit(ctx, "addr1", money.FromUnits(30), "0x3")

	entries, err := l.AuditTrail(ctx, "addr1", 2)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].TxHash != "0x3" || entries[1].TxHash != "0x2" {
		t.Errorf("order = %s, %s, want 0x3, 0x2", entries[0].TxHash, entries[1].TxHash)
	}
}
