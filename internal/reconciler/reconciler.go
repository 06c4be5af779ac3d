package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"HouseLedger/internal/event"
	"HouseLedger/internal/ledger"
	"HouseLedger/internal/observability"
)

// TreasurySink receives on-chain treasury balance observations.
type TreasurySink interface {
	SetTreasury(balance int64, observedAt time.Time)
}

// Config tunes the in-process retry for transient storage failures.
// Exhausted retries surface the error to the feed, which redelivers.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Reconciler applies confirmed chain events to the ledger. The feed is
// at-least-once, so a redelivered event lands on the ledger's tx-hash
// dedupe and counts as success.
type Reconciler struct {
	ledger   ledger.Ledger
	treasury TreasurySink
	cfg      Config
	log      zerolog.Logger
	metrics  *observability.Metrics
}

func New(l ledger.Ledger, treasury TreasurySink, cfg Config, log zerolog.Logger, metrics *observability.Metrics) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Reconciler{
		ledger:   l,
		treasury: treasury,
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
	}
}

// Apply processes one chain event to completion. A nil return means the
// event is finished with: applied, recognized as a duplicate, or
// dropped as unapplicable. A non-nil return means the feed should
// redeliver it later.
func (r *Reconciler) Apply(ctx context.Context, evt event.ChainEvent) error {
	if err := evt.Validate(); err != nil {
		r.metrics.ChainEventsDropped.WithLabelValues(string(evt.Kind), "malformed").Inc()
		r.log.Warn().Err(err).Str("tx_hash", evt.TxHash).Msg("dropping malformed chain event")
		return nil
	}

	if evt.Kind == event.KindTreasury {
		r.treasury.SetTreasury(int64(evt.Amount), evt.Timestamp)
		r.metrics.ChainEventsApplied.WithLabelValues(string(evt.Kind)).Inc()
		return nil
	}

	backoff := r.cfg.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := r.applyOnce(ctx, evt)
		switch {
		case err == nil:
			r.metrics.ChainEventsApplied.WithLabelValues(string(evt.Kind)).Inc()
			r.metrics.LedgerOperations.WithLabelValues(operationFor(evt.Kind)).Inc()
			r.log.Info().
				Str("kind", string(evt.Kind)).
				Str("address", evt.Address).
				Str("amount", evt.Amount.String()).
				Str("tx_hash", evt.TxHash).
				Msg("chain event applied")
			return nil

		case errors.Is(err, ledger.ErrDuplicateTransaction):
			// Redelivery of an already-applied event.
			r.metrics.ChainEventsDuplicate.WithLabelValues(string(evt.Kind)).Inc()
			r.log.Debug().Str("tx_hash", evt.TxHash).Msg("duplicate chain event")
			return nil

		case errors.Is(err, ledger.ErrInvalidAmount):
			r.metrics.ChainEventsDropped.WithLabelValues(string(evt.Kind), "invalid_amount").Inc()
			r.log.Warn().Err(err).Str("tx_hash", evt.TxHash).Msg("dropping unapplicable chain event")
			return nil

		case errors.Is(err, ledger.ErrInsufficientFunds):
			// A confirmed withdrawal the ledger cannot cover. Surface
			// it for redelivery: the matching deposit may still be in
			// flight on the feed.
			r.log.Warn().
				Str("address", evt.Address).
				Str("amount", evt.Amount.String()).
				Str("tx_hash", evt.TxHash).
				Msg("withdrawal exceeds ledger balance, leaving on feed")
			return err

		default:
			lastErr = err
			r.metrics.ChainEventRetries.Inc()
			r.log.Warn().Err(err).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Str("tx_hash", evt.TxHash).
				Msg("transient failure applying chain event")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}
	}

	return fmt.Errorf("apply %s %s after %d attempts: %w", evt.Kind, evt.TxHash, r.cfg.MaxAttempts, lastErr)
}

func (r *Reconciler) applyOnce(ctx context.Context, evt event.ChainEvent) error {
	switch evt.Kind {
	case event.KindDeposit:
		_, err := r.ledger.CreditForDeposit(ctx, evt.Address, evt.Amount, evt.TxHash)
		return err
	case event.KindWithdrawal:
		_, err := r.ledger.DebitForWithdrawal(ctx, evt.Address, evt.Amount, evt.TxHash)
		return err
	default:
		return fmt.Errorf("%w: kind %q", event.ErrMalformed, evt.Kind)
	}
}

func operationFor(kind event.Kind) string {
	if kind == event.KindDeposit {
		return string(ledger.OpDeposit)
	}
	return string(ledger.OpWithdrawal)
}
