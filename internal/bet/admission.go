package bet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"HouseLedger/internal/ledger"
	"HouseLedger/internal/money"
	"HouseLedger/internal/observability"
	"HouseLedger/internal/oracle"
)

// PlaceRequest is one bet submission before validation.
type PlaceRequest struct {
	Address     string
	Amount      money.Amount
	Direction   Direction
	Multiplier  int64
	PriceTarget money.Amount
}

// AdmissionConfig tunes bet admission.
type AdmissionConfig struct {
	Asset         string
	RoundDuration time.Duration
}

// Admission validates incoming bets and admits them. The stake debit
// and the bet record commit in one atomic unit; a rejected bet leaves
// the ledger untouched.
type Admission struct {
	store   Store
	prices  oracle.LatestSource
	cfg     AdmissionConfig
	now     func() time.Time
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewAdmission(store Store, prices oracle.LatestSource, cfg AdmissionConfig, log zerolog.Logger, metrics *observability.Metrics) *Admission {
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = 30 * time.Second
	}
	return &Admission{
		store:   store,
		prices:  prices,
		cfg:     cfg,
		now:     time.Now,
		log:     log,
		metrics: metrics,
	}
}

// Place admits one bet. Validation failures return
// ledger.ErrInvalidAmount, ErrInvalidTarget, or
// ledger.ErrInsufficientFunds unchanged; the caller maps them to its
// surface.
func (a *Admission) Place(ctx context.Context, req PlaceRequest) (*Bet, money.Amount, error) {
	if err := a.validate(req); err != nil {
		a.metrics.BetsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, 0, err
	}

	sample, err := a.prices.Latest(ctx, a.cfg.Asset)
	if err != nil {
		a.metrics.BetsRejected.WithLabelValues("price_unavailable").Inc()
		return nil, 0, fmt.Errorf("reference price for %s: %w", a.cfg.Asset, err)
	}

	placedAt := a.now()
	b := &Bet{
		ID:             uuid.New(),
		Address:        req.Address,
		Amount:         req.Amount,
		Direction:      req.Direction,
		Multiplier:     req.Multiplier,
		PriceTarget:    req.PriceTarget,
		ReferencePrice: sample.Price,
		PlacedAt:       placedAt,
		Deadline:       placedAt.Add(a.cfg.RoundDuration),
		Status:         StatusPending,
	}

	balance, err := a.store.CreateWithStake(ctx, b)
	if err != nil {
		a.metrics.BetsRejected.WithLabelValues(rejectionReason(err)).Inc()
		return nil, balance, err
	}

	a.metrics.BetsPlaced.Inc()
	a.metrics.LedgerOperations.WithLabelValues(string(ledger.OpBetPlaced)).Inc()
	a.log.Info().
		Str("bet_id", b.ID.String()).
		Str("address", b.Address).
		Str("direction", string(b.Direction)).
		Str("stake", b.Amount.String()).
		Str("target", b.PriceTarget.String()).
		Time("deadline", b.Deadline).
		Msg("bet admitted")

	return b, balance, nil
}

func (a *Admission) validate(req PlaceRequest) error {
	if req.Address == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidTarget)
	}
	if req.Amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	if req.Multiplier <= money.MultiplierScale {
		return fmt.Errorf("%w: multiplier must exceed 1x", ErrInvalidTarget)
	}

	switch req.Direction {
	case DirectionUp:
		if req.PriceTarget <= 0 {
			return fmt.Errorf("%w: up bet needs a positive target delta", ErrInvalidTarget)
		}
	case DirectionDown:
		if req.PriceTarget >= 0 {
			return fmt.Errorf("%w: down bet needs a negative target delta", ErrInvalidTarget)
		}
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidTarget, req.Direction)
	}
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "storage"
	}
}
