package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"HouseLedger/internal/money"
	"HouseLedger/internal/testutil"
)

// Exercises the real FOR UPDATE transaction path against a migrated
// test database.
func TestPostgresLedgerIntegration(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	l := NewPostgres(db)
	ctx := context.Background()

	balance, err := l.CreditForDeposit(ctx, "it-addr1", money.FromUnits(100), "0xit1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if balance != money.FromUnits(100) {
		t.Fatalf("balance = %s, want 100", balance)
	}

	if _, err := l.CreditForDeposit(ctx, "it-addr1", money.FromUnits(100), "0xit1"); !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("duplicate deposit err = %v, want ErrDuplicateTransaction", err)
	}

	betID := uuid.New()
	if _, err := l.DebitForBet(ctx, "it-addr1", money.FromUnits(30), betID); err != nil {
		t.Fatalf("bet debit: %v", err)
	}
	if _, err := l.CreditForPayout(ctx, "it-addr1", money.FromUnits(60), betID); err != nil {
		t.Fatalf("payout credit: %v", err)
	}
	if _, err := l.DebitForWithdrawal(ctx, "it-addr1", money.FromUnits(50), "0xit2"); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	balance, err = l.Balance(ctx, "it-addr1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != money.FromUnits(80) {
		t.Errorf("balance = %s, want 80", balance)
	}

	if _, err := l.DebitForWithdrawal(ctx, "it-addr1", money.FromUnits(500), "0xit3"); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraw err = %v, want ErrInsufficientFunds", err)
	}

	entries, err := l.AuditTrail(ctx, "it-addr1", 0)
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("audit entries = %d, want 4", len(entries))
	}

	if err := l.VerifyChain(ctx, "it-addr1"); err != nil {
		t.Errorf("verify chain: %v", err)
	}

	total, err := l.TotalBalance(ctx)
	if err != nil {
		t.Fatalf("total balance: %v", err)
	}
	if total != money.FromUnits(80) {
		t.Errorf("total = %s, want 80", total)
	}
}
