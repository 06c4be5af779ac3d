package ingestion

import (
	"context"

	"github.com/rs/zerolog"

	"HouseLedger/internal/event"
	"HouseLedger/internal/oracle"
)

// ChainApplier finishes one chain event. A nil return means the event
// is done with and may be ACKed; an error asks for redelivery.
type ChainApplier interface {
	Apply(ctx context.Context, evt event.ChainEvent) error
}

// PriceRecorder stores one price sample.
type PriceRecorder interface {
	Record(sample oracle.Sample) error
}

// Dispatcher drains the raw NATS channel, decodes each message by
// subject, and routes it to the reconciler or the price feed. Messages
// that can never decode are ACKed and dropped so they do not poison
// the consumer.
type Dispatcher struct {
	events  <-chan RawEvent
	applier ChainApplier
	prices  PriceRecorder
	log     zerolog.Logger
}

func NewDispatcher(events <-chan RawEvent, applier ChainApplier, prices PriceRecorder, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		events:  events,
		applier: applier,
		prices:  prices,
		log:     log,
	}
}

// Run processes messages until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info().Msg("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopped")
			return
		case raw := <-d.events:
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawEvent) {
	if IsPriceSubject(raw.Subject) {
		sample, err := ParsePriceSample(raw.Data)
		if err == nil {
			err = d.prices.Record(sample)
		}
		if err != nil {
			d.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping bad price sample")
		}
		raw.Ack()
		return
	}

	evt, err := ParseChainEvent(raw.Subject, raw.Data)
	if err != nil {
		d.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping undecodable chain event")
		raw.Ack()
		return
	}

	if err := d.applier.Apply(ctx, evt); err != nil {
		d.log.Warn().Err(err).Str("tx_hash", evt.TxHash).Msg("chain event left for redelivery")
		raw.Nak()
		return
	}
	raw.Ack()
}
