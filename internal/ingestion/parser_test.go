package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"HouseLedger/internal/event"
	"HouseLedger/internal/money"
	"HouseLedger/internal/observability"
	"HouseLedger/internal/oracle"
)

func TestParseChainEvent(t *testing.T) {
	payload := []byte(`{"address":"0xabc","amount":12500000000,"tx_hash":"0xdeadbeef","timestamp":"2026-03-01T12:00:00Z"}`)

	evt, err := ParseChainEvent("house.chain.deposits.eth", payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != event.KindDeposit {
		t.Errorf("kind = %s, want deposit (from subject)", evt.Kind)
	}
	if evt.Amount != money.FromUnits(125) {
		t.Errorf("amount = %s, want 125", evt.Amount)
	}
	if err := evt.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestParseChainEventExplicitKindWins(t *testing.T) {
	payload := []byte(`{"kind":"withdrawal","address":"0xabc","amount":100,"tx_hash":"0x1"}`)

	evt, err := ParseChainEvent("house.chain.deposits.eth", payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Kind != event.KindWithdrawal {
		t.Errorf("kind = %s, want the payload's withdrawal", evt.Kind)
	}
}

func TestParseChainEventMalformed(t *testing.T) {
	if _, err := ParseChainEvent("house.chain.deposits.eth", []byte(`{not json`)); !errors.Is(err, event.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestKindFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    event.Kind
	}{
		{"house.chain.deposits.eth", event.KindDeposit},
		{"house.chain.withdrawals.eth", event.KindWithdrawal},
		{"house.chain.treasury.eth", event.KindTreasury},
	}
	for _, tt := range tests {
		if got := kindFromSubject(tt.subject); got != tt.want {
			t.Errorf("kindFromSubject(%q) = %s, want %s", tt.subject, got, tt.want)
		}
	}
}

func TestParsePriceSample(t *testing.T) {
	payload := []byte(`{"asset":"BTC-USD","price":5000000000000,"timestamp":"2026-03-01T12:00:00Z"}`)

	sample, err := ParsePriceSample(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sample.Asset != "BTC-USD" {
		t.Errorf("asset = %q, want BTC-USD", sample.Asset)
	}
	if sample.Price != money.FromUnits(50_000) {
		t.Errorf("price = %s, want 50000", sample.Price)
	}
}

// ackTracker counts ack/nak decisions for dispatcher tests.
type ackTracker struct {
	acked, naked int
}

func (a *ackTracker) raw(subject string, data []byte) RawEvent {
	return RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		Ack:       func() { a.acked++ },
		Nak:       func() { a.naked++ },
	}
}

type applierStub struct {
	applied []event.ChainEvent
	err     error
}

func (s *applierStub) Apply(_ context.Context, evt event.ChainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.applied = append(s.applied, evt)
	return nil
}

func newTestDispatcher(applier ChainApplier, feed PriceRecorder) (*Dispatcher, chan RawEvent) {
	events := make(chan RawEvent, 16)
	d := NewDispatcher(events, applier, feed, observability.NewLoggerWithLevel("dispatch", zerolog.Disabled))
	return d, events
}

func TestDispatcherRoutesAndAcks(t *testing.T) {
	applier := &applierStub{}
	feed := oracle.NewFeed(time.Hour)
	d, _ := newTestDispatcher(applier, feed)
	tracker := &ackTracker{}

	d.handle(context.Background(), tracker.raw("house.chain.deposits.eth",
		[]byte(`{"address":"0xabc","amount":100,"tx_hash":"0x1"}`)))
	d.handle(context.Background(), tracker.raw("house.prices.btc",
		[]byte(`{"asset":"BTC-USD","price":5000000000000,"timestamp":"2026-03-01T12:00:00Z"}`)))

	if len(applier.applied) != 1 {
		t.Errorf("applied = %d chain events, want 1", len(applier.applied))
	}
	if tracker.acked != 2 || tracker.naked != 0 {
		t.Errorf("acked = %d, naked = %d, want 2 and 0", tracker.acked, tracker.naked)
	}

	if _, err := feed.Latest(context.Background(), "BTC-USD"); err != nil {
		t.Errorf("price not recorded: %v", err)
	}
}

func TestDispatcherNaksFailedApply(t *testing.T) {
	applier := &applierStub{err: errors.New("storage down")}
	d, _ := newTestDispatcher(applier, oracle.NewFeed(time.Hour))
	tracker := &ackTracker{}

	d.handle(context.Background(), tracker.raw("house.chain.deposits.eth",
		[]byte(`{"address":"0xabc","amount":100,"tx_hash":"0x1"}`)))

	if tracker.naked != 1 || tracker.acked != 0 {
		t.Errorf("acked = %d, naked = %d, want 0 and 1", tracker.acked, tracker.naked)
	}
}

func TestDispatcherAcksPoisonMessages(t *testing.T) {
	applier := &applierStub{}
	d, _ := newTestDispatcher(applier, oracle.NewFeed(time.Hour))
	tracker := &ackTracker{}

	// Undecodable payloads must never loop through redelivery.
	d.handle(context.Background(), tracker.raw("house.chain.deposits.eth", []byte(`garbage`)))
	d.handle(context.Background(), tracker.raw("house.prices.btc", []byte(`garbage`)))

	if tracker.acked != 2 || tracker.naked != 0 {
		t.Errorf("acked = %d, naked = %d, want 2 and 0", tracker.acked, tracker.naked)
	}
	if len(applier.applied) != 0 {
		t.Errorf("poison message reached the applier")
	}
}
