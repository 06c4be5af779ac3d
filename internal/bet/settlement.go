package bet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"HouseLedger/internal/ledger"
	"HouseLedger/internal/money"
	"HouseLedger/internal/observability"
	"HouseLedger/internal/oracle"
)

// SettlerConfig tunes the settlement scan.
type SettlerConfig struct {
	Asset          string
	ScanInterval   time.Duration
	GraceWindow    time.Duration // quiet wait for a price sample past the deadline
	MaxSettleDelay time.Duration // alert threshold for unresolved bets
	BatchSize      int
}

// Settler resolves due bets. Each scan picks up pending bets past
// their deadline and judges them against the first price sample at or
// after the deadline. A bet with no such sample yet stays pending; it
// is never judged on a price from before its deadline.
type Settler struct {
	store   Store
	prices  oracle.PriceSource
	cfg     SettlerConfig
	now     func() time.Time
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewSettler(store Store, prices oracle.PriceSource, cfg SettlerConfig, log zerolog.Logger, metrics *observability.Metrics) *Settler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 15 * time.Second
	}
	if cfg.MaxSettleDelay <= 0 {
		cfg.MaxSettleDelay = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Settler{
		store:   store,
		prices:  prices,
		cfg:     cfg,
		now:     time.Now,
		log:     log,
		metrics: metrics,
	}
}

// Run scans on the configured interval until ctx is cancelled.
func (s *Settler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.log.Info().
		Dur("scan_interval", s.cfg.ScanInterval).
		Dur("grace_window", s.cfg.GraceWindow).
		Msg("settlement loop started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("settlement loop stopped")
			return
		case <-ticker.C:
			if _, err := s.SettleDue(ctx); err != nil {
				s.log.Error().Err(err).Msg("settlement scan failed")
			}
		}
	}
}

// SettleDue resolves every due bet it can and returns how many were
// settled. Bets without a usable price are left pending for the next
// scan; storage errors on one bet do not block the rest.
func (s *Settler) SettleDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.DuePending(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("scan due bets: %w", err)
	}

	settled := 0
	overdue := 0
	var firstErr error
	for i := range due {
		b := &due[i]
		ok, err := s.settleOne(ctx, b, now)
		switch {
		case err == nil && ok:
			settled++
		case errors.Is(err, oracle.ErrPriceUnavailable):
			s.metrics.PriceMisses.Inc()
			if now.Sub(b.Deadline) > s.cfg.MaxSettleDelay {
				overdue++
				s.log.Error().
					Str("bet_id", b.ID.String()).
					Time("deadline", b.Deadline).
					Dur("waiting", now.Sub(b.Deadline)).
					Msg("bet unresolved past max settlement delay")
			} else if now.Sub(b.Deadline) > s.cfg.GraceWindow {
				s.log.Warn().
					Str("bet_id", b.ID.String()).
					Time("deadline", b.Deadline).
					Msg("no price sample yet, bet deferred")
			}
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
			s.log.Error().Err(err).Str("bet_id", b.ID.String()).Msg("settle bet")
		}
	}

	s.metrics.OverdueBets.Set(float64(overdue))
	return settled, firstErr
}

// settleOne resolves a single bet. Returns false with a nil error when
// another settlement got there first.
func (s *Settler) settleOne(ctx context.Context, b *Bet, now time.Time) (bool, error) {
	sample, err := s.prices.PriceAt(ctx, s.cfg.Asset, b.Deadline)
	if err != nil {
		return false, err
	}

	status := b.Outcome(sample.Price)
	var payout money.Amount
	if status == StatusWon {
		payout = b.WinPayout()
	}

	ok, err := s.store.Resolve(ctx, b.ID, status, sample.Price, payout, now)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", b.ID, err)
	}
	if !ok {
		return false, nil
	}

	s.metrics.BetsSettled.WithLabelValues(string(status)).Inc()
	s.metrics.SettlementLag.Observe(now.Sub(b.Deadline).Seconds())
	if status == StatusWon {
		s.metrics.LedgerOperations.WithLabelValues(string(ledger.OpBetWon)).Inc()
	}

	s.log.Info().
		Str("bet_id", b.ID.String()).
		Str("address", b.Address).
		Str("outcome", string(status)).
		Str("settled_price", sample.Price.String()).
		Str("payout", payout.String()).
		Msg("bet settled")

	return true, nil
}
