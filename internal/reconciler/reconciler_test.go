package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"HouseLedger/internal/event"
	"HouseLedger/internal/ledger"
	"HouseLedger/internal/money"
	"HouseLedger/internal/observability"
)

type treasuryStub struct {
	mu      sync.Mutex
	balance int64
	set     bool
}

func (s *treasuryStub) SetTreasury(balance int64, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
	s.set = true
}

func newTestReconciler(l ledger.Ledger) (*Reconciler, *treasuryStub) {
	treasury := &treasuryStub{}
	r := New(l, treasury, Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, observability.NewLoggerWithLevel("reconciler", zerolog.Disabled),
		observability.NewMetrics(prometheus.NewRegistry()))
	return r, treasury
}

func TestApplyDepositAndWithdrawal(t *testing.T) {
	l := ledger.NewMemLedger()
	r, _ := newTestReconciler(l)
	ctx := context.Background()

	if err := r.Apply(ctx, event.ChainEvent{Kind: event.KindDeposit, Address: "addr1", Amount: money.FromUnits(100), TxHash: "0x1"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.Apply(ctx, event.ChainEvent{Kind: event.KindWithdrawal, Address: "addr1", Amount: money.FromUnits(30), TxHash: "0x2"}); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}

	balance, _ := l.Balance(ctx, "addr1")
	if balance != money.FromUnits(70) {
		t.Errorf("balance = %s, want 70", balance)
	}
}

func TestRedeliveryIsSuccess(t *testing.T) {
	l := ledger.NewMemLedger()
	r, _ := newTestReconciler(l)
	ctx := context.Background()

	evt := event.ChainEvent{Kind: event.KindDeposit, Address: "addr1", Amount: money.FromUnits(100), TxHash: "0xdup"}
	for i := 0; i < 3; i++ {
		if err := r.Apply(ctx, evt); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	balance, _ := l.Balance(ctx, "addr1")
	if balance != money.FromUnits(100) {
		t.Errorf("balance = %s, want 100 after redeliveries", balance)
	}
	entries, _ := l.AuditTrail(ctx, "addr1", 0)
	if len(entries) != 1 {
		t.Errorf("audit entries = %d, want 1", len(entries))
	}
}

func TestMalformedEventsDropped(t *testing.T) {
	l := ledger.NewMemLedger()
	r, _ := newTestReconciler(l)
	ctx := context.Background()

	malformed := []event.ChainEvent{
		{Kind: event.KindDeposit, Address: "", Amount: money.FromUnits(1), TxHash: "0x1"},
		{Kind: event.KindDeposit, Address: "addr1", Amount: 0, TxHash: "0x2"},
		{Kind: event.KindDeposit, Address: "addr1", Amount: money.FromUnits(1), TxHash: ""},
		{Kind: "garbage", Address: "addr1", Amount: money.FromUnits(1), TxHash: "0x3"},
	}

	for i, evt := range malformed {
		if err := r.Apply(ctx, evt); err != nil {
			t.Errorf("event %d: dropped events must not surface errors, got %v", i, err)
		}
	}

	total, _ := l.TotalBalance(ctx)
	if total != 0 {
		t.Errorf("ledger touched by malformed events: total = %s", total)
	}
}

func TestTreasuryEventForwarded(t *testing.T) {
	l := ledger.NewMemLedger()
	r, treasury := newTestReconciler(l)
	ctx := context.Background()

	if err := r.Apply(ctx, event.ChainEvent{Kind: event.KindTreasury, Amount: money.FromUnits(500), Timestamp: time.Now()}); err != nil {
		t.Fatalf("treasury event: %v", err)
	}
	if !treasury.set || treasury.balance != int64(money.FromUnits(500)) {
		t.Errorf("treasury sink = (%v, %d), want set to 500 units", treasury.set, treasury.balance)
	}
}

func TestUncoveredWithdrawalLeftOnFeed(t *testing.T) {
	l := ledger.NewMemLedger()
	r, _ := newTestReconciler(l)
	ctx := context.Background()

	err := r.Apply(ctx, event.ChainEvent{Kind: event.KindWithdrawal, Address: "addr1", Amount: money.FromUnits(10), TxHash: "0xwd"})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds surfaced for redelivery", err)
	}

	// The matching deposit arrives, then redelivery succeeds.
	if err := r.Apply(ctx, event.ChainEvent{Kind: event.KindDeposit, Address: "addr1", Amount: money.FromUnits(50), TxHash: "0xdep"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := r.Apply(ctx, event.ChainEvent{Kind: event.KindWithdrawal, Address: "addr1", Amount: money.FromUnits(10), TxHash: "0xwd"}); err != nil {
		t.Fatalf("redelivered withdrawal: %v", err)
	}

	balance, _ := l.Balance(ctx, "addr1")
	if balance != money.FromUnits(40) {
		t.Errorf("balance = %s, want 40", balance)
	}
}

// flakyLedger fails a fixed number of times before delegating.
type flakyLedger struct {
	ledger.Ledger
	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyLedger) CreditForDeposit(ctx context.Context, address string, amount money.Amount, txHash string) (money.Amount, error) {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()
	if fail {
		return 0, errors.New("storage unavailable")
	}
	return f.Ledger.CreditForDeposit(ctx, address, amount, txHash)
}

func TestTransientFailuresRetried(t *testing.T) {
	mem := ledger.NewMemLedger()
	flaky := &flakyLedger{Ledger: mem, failures: 2}
	treasury := &treasuryStub{}
	r := New(flaky, treasury, Config{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, observability.NewLoggerWithLevel("reconciler", zerolog.Disabled),
		observability.NewMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	if err := r.Apply(ctx, event.ChainEvent{Kind: event.KindDeposit, Address: "addr1", Amount: money.FromUnits(100), TxHash: "0x1"}); err != nil {
		t.Fatalf("apply with transient failures: %v", err)
	}

	balance, _ := mem.Balance(ctx, "addr1")
	if balance != money.FromUnits(100) {
		t.Errorf("balance = %s, want 100", balance)
	}
	if flaky.attempts != 3 {
		t.Errorf("attempts = %d, want 3", flaky.attempts)
	}
}

func TestRetriesExhaustedSurfaceError(t *testing.T) {
	mem := ledger.NewMemLedger()
	flaky := &flakyLedger{Ledger: mem, failures: 100}
	treasury := &treasuryStub{}
	r := New(flaky, treasury, Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}, observability.NewLoggerWithLevel("reconciler", zerolog.Disabled),
		observability.NewMetrics(prometheus.NewRegistry()))

	err := r.Apply(context.Background(), event.ChainEvent{Kind: event.KindDeposit, Address: "addr1", Amount: money.FromUnits(1), TxHash: "0x1"})
	if err == nil {
		t.Fatal("exhausted retries must surface an error for redelivery")
	}
	if flaky.attempts != 3 {
		t.Errorf("attempts = %d, want 3", flaky.attempts)
	}
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	l := ledger.NewMemLedger()
	r, _ := newTestReconciler(l)
	ctx := context.Background()

	// The same deposit delivered concurrently: exactly one credit.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Apply(ctx, event.ChainEvent{Kind: event.KindDeposit, Address: "addr1", Amount: money.FromUnits(25), TxHash: "0xsame"})
		}()
	}
	wg.Wait()

	balance, _ := l.Balance(ctx, "addr1")
	if balance != money.FromUnits(25) {
		t.Errorf("balance = %s, want 25", balance)
	}
	if err := l.VerifyChain(ctx, "addr1"); err != nil {
		t.Errorf("verify chain: %v", err)
	}
}
