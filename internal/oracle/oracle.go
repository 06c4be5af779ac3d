package oracle

import (
	"context"
	"errors"
	"time"

	"HouseLedger/internal/money"
)

// Sample is one observed price point from the feed.
type Sample struct {
	Asset     string       `json:"asset"`
	Price     money.Amount `json:"price"`
	Timestamp time.Time    `json:"timestamp"`
}

// ErrPriceUnavailable means no sample at or after the requested instant
// has been observed yet. Callers defer and retry; settlement never runs
// on a price older than the deadline it resolves.
var ErrPriceUnavailable = errors.New("price unavailable")

// PriceSource answers point-in-time price queries for settlement.
type PriceSource interface {
	// PriceAt returns the earliest sample with Timestamp >= at for the
	// asset, or ErrPriceUnavailable if none has arrived.
	PriceAt(ctx context.Context, asset string, at time.Time) (Sample, error)
}

// LatestSource answers current-price queries for bet admission.
type LatestSource interface {
	// Latest returns the most recent sample for the asset, or
	// ErrPriceUnavailable if none has been observed.
	Latest(ctx context.Context, asset string) (Sample, error)
}
