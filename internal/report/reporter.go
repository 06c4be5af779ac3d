package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"HouseLedger/internal/ledger"
	"HouseLedger/internal/money"
	"HouseLedger/internal/observability"
)

// ErrTreasuryUnknown means no treasury observation has arrived yet.
var ErrTreasuryUnknown = errors.New("treasury balance not yet observed")

// TreasurySource answers the latest observed on-chain treasury balance.
type TreasurySource interface {
	TreasuryBalance(ctx context.Context) (money.Amount, time.Time, error)
}

// Watcher holds the latest treasury balance from the chain feed. It is
// the TreasurySink the reconciler writes and the TreasurySource the
// reporter reads.
type Watcher struct {
	mu         sync.RWMutex
	balance    money.Amount
	observedAt time.Time
	seen       bool
}

func NewWatcher() *Watcher {
	return &Watcher{}
}

func (w *Watcher) SetTreasury(balance int64, observedAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Never replace a newer observation with a redelivered older one.
	if w.seen && observedAt.Before(w.observedAt) {
		return
	}
	w.balance = money.Amount(balance)
	w.observedAt = observedAt
	w.seen = true
}

func (w *Watcher) TreasuryBalance(_ context.Context) (money.Amount, time.Time, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.seen {
		return 0, time.Time{}, ErrTreasuryUnknown
	}
	return w.balance, w.observedAt, nil
}

// Report is one reconciliation comparison. Discrepancy is ledger total
// minus treasury: positive means the ledger promises more than the
// chain holds.
type Report struct {
	LedgerTotal     money.Amount `json:"ledger_total"`
	TreasuryBalance money.Amount `json:"treasury_balance"`
	Discrepancy     money.Amount `json:"discrepancy"`
	ComparedAt      time.Time    `json:"compared_at"`
}

// Reporter compares the ledger against the treasury on a schedule and
// on demand. It only ever reports; it never adjusts a balance.
type Reporter struct {
	ledger   ledger.Ledger
	treasury TreasurySource
	interval time.Duration
	log      zerolog.Logger
	metrics  *observability.Metrics
}

func NewReporter(l ledger.Ledger, treasury TreasurySource, interval time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Reporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{
		ledger:   l,
		treasury: treasury,
		interval: interval,
		log:      log,
		metrics:  metrics,
	}
}

// Run compares periodically until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.interval).Msg("reconciliation loop started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciliation loop stopped")
			return
		case <-ticker.C:
			if _, err := r.Compare(ctx); err != nil && !errors.Is(err, ErrTreasuryUnknown) {
				r.log.Error().Err(err).Msg("reconciliation failed")
			}
		}
	}
}

// Compare runs one comparison against the watched treasury balance.
func (r *Reporter) Compare(ctx context.Context) (Report, error) {
	treasury, observedAt, err := r.treasury.TreasuryBalance(ctx)
	if err != nil {
		return Report{}, err
	}
	rep, err := r.CompareWith(ctx, treasury)
	if err != nil {
		return Report{}, err
	}
	rep.ComparedAt = observedAt
	return rep, nil
}

// CompareWith compares the ledger against an explicit treasury figure,
// the on-demand entry point for the API.
func (r *Reporter) CompareWith(ctx context.Context, treasury money.Amount) (Report, error) {
	total, err := r.ledger.TotalBalance(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("ledger total: %w", err)
	}

	rep := Report{
		LedgerTotal:     total,
		TreasuryBalance: treasury,
		Discrepancy:     total - treasury,
		ComparedAt:      time.Now(),
	}

	r.metrics.ReconcileRuns.Inc()
	r.metrics.ReconcileDiscrepancy.Set(float64(rep.Discrepancy))
	r.metrics.LedgerTotal.Set(float64(total))

	if rep.Discrepancy != 0 {
		r.log.Error().
			Str("ledger_total", total.String()).
			Str("treasury", treasury.String()).
			Str("discrepancy", rep.Discrepancy.String()).
			Msg("reconciliation discrepancy")
	} else {
		r.log.Debug().Str("total", total.String()).Msg("ledger and treasury reconcile")
	}

	return rep, nil
}
