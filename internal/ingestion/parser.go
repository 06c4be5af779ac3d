package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"HouseLedger/internal/event"
	"HouseLedger/internal/oracle"
)

// Subject prefixes the dispatcher routes on.
const (
	chainSubjectPrefix = "house.chain."
	priceSubjectPrefix = "house.prices."
)

// ParseChainEvent decodes a chain event and fills the kind from the
// subject when the payload leaves it out. The result still needs
// Validate before it can touch the ledger.
func ParseChainEvent(subject string, data []byte) (event.ChainEvent, error) {
	var evt event.ChainEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return event.ChainEvent{}, fmt.Errorf("%w: %v", event.ErrMalformed, err)
	}

	if evt.Kind == "" {
		evt.Kind = kindFromSubject(subject)
	}
	return evt, nil
}

// ParsePriceSample decodes one price observation.
func ParsePriceSample(data []byte) (oracle.Sample, error) {
	var sample oracle.Sample
	if err := json.Unmarshal(data, &sample); err != nil {
		return oracle.Sample{}, fmt.Errorf("malformed price sample: %w", err)
	}
	return sample, nil
}

// IsPriceSubject reports whether a subject carries price samples
// rather than chain events.
func IsPriceSubject(subject string) bool {
	return strings.HasPrefix(subject, priceSubjectPrefix)
}

func kindFromSubject(subject string) event.Kind {
	rest := strings.TrimPrefix(subject, chainSubjectPrefix)
	switch {
	case strings.HasPrefix(rest, "deposits"):
		return event.KindDeposit
	case strings.HasPrefix(rest, "withdrawals"):
		return event.KindWithdrawal
	case strings.HasPrefix(rest, "treasury"):
		return event.KindTreasury
	default:
		return event.Kind(rest)
	}
}
