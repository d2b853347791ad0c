package reading

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseEvent is one fuel refill entry from the purchase ledger.
// The ledger is the source of truth for refill volume; volumes are never
// estimated or back-filled from sensor data.
type PurchaseEvent struct {
	timestamp     time.Time
	liters        float64
	pricePerLiter decimal.Decimal
	location      string
}

// NewPurchaseEvent creates a ledger entry.
func NewPurchaseEvent(timestamp time.Time, liters float64, pricePerLiter decimal.Decimal, location string) (PurchaseEvent, error) {
	if timestamp.IsZero() {
		return PurchaseEvent{}, ErrInvalidTimestamp
	}
	if liters <= 0 {
		return PurchaseEvent{}, ErrNonPositiveVolume
	}
	if pricePerLiter.IsNegative() {
		return PurchaseEvent{}, ErrNegativePrice
	}
	if location == "" {
		return PurchaseEvent{}, ErrEmptyLocation
	}

	return PurchaseEvent{
		timestamp:     timestamp,
		liters:        liters,
		pricePerLiter: pricePerLiter,
		location:      location,
	}, nil
}

// Timestamp returns the refill instant.
func (p PurchaseEvent) Timestamp() time.Time { return p.timestamp }

// Liters returns the refill volume.
func (p PurchaseEvent) Liters() float64 { return p.liters }

// PricePerLiter returns the ledger price for this refill.
func (p PurchaseEvent) PricePerLiter() decimal.Decimal { return p.pricePerLiter }

// Location returns the site the fuel was delivered to.
func (p PurchaseEvent) Location() string { return p.location }

// Cost returns liters * price for this refill.
func (p PurchaseEvent) Cost() decimal.Decimal {
	return p.pricePerLiter.Mul(decimal.NewFromFloat(p.liters))
}

// WithTimestamp returns a copy of the event stamped at the given instant.
func (p PurchaseEvent) WithTimestamp(ts time.Time) (PurchaseEvent, error) {
	if ts.IsZero() {
		return PurchaseEvent{}, ErrInvalidTimestamp
	}
	out := p
	out.timestamp = ts
	return out, nil
}
