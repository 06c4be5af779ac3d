package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Feed is an in-memory price history fed by the price subscription.
// Samples are kept sorted per asset and pruned past the retention
// window, which only needs to cover the settlement grace period plus
// scan lag.
type Feed struct {
	mu        sync.RWMutex
	samples   map[string][]Sample
	retention time.Duration
}

func NewFeed(retention time.Duration) *Feed {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Feed{
		samples:   make(map[string][]Sample),
		retention: retention,
	}
}

// Record stores a sample. Samples normally arrive in timestamp order;
// a late sample is inserted in place so PriceAt stays correct.
func (f *Feed) Record(sample Sample) error {
	if sample.Asset == "" {
		return fmt.Errorf("sample missing asset")
	}
	if sample.Price <= 0 {
		return fmt.Errorf("sample for %s has non-positive price %d", sample.Asset, sample.Price)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	history := f.samples[sample.Asset]
	n := len(history)
	if n == 0 || !history[n-1].Timestamp.After(sample.Timestamp) {
		history = append(history, sample)
	} else {
		i := sort.Search(n, func(i int) bool {
			return history[i].Timestamp.After(sample.Timestamp)
		})
		history = append(history, Sample{})
		copy(history[i+1:], history[i:])
		history[i] = sample
	}

	// Prune everything older than the retention window.
	cutoff := sample.Timestamp.Add(-f.retention)
	start := sort.Search(len(history), func(i int) bool {
		return !history[i].Timestamp.Before(cutoff)
	})
	if start > 0 {
		history = append(history[:0:0], history[start:]...)
	}

	f.samples[sample.Asset] = history
	return nil
}

// Latest returns the most recent sample for the asset.
func (f *Feed) Latest(_ context.Context, asset string) (Sample, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	history := f.samples[asset]
	if len(history) == 0 {
		return Sample{}, ErrPriceUnavailable
	}
	return history[len(history)-1], nil
}

func (f *Feed) PriceAt(_ context.Context, asset string, at time.Time) (Sample, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	history := f.samples[asset]
	i := sort.Search(len(history), func(i int) bool {
		return !history[i].Timestamp.Before(at)
	})
	if i == len(history) {
		return Sample{}, ErrPriceUnavailable
	}
	return history[i], nil
}
