// Package pricing resolves the fuel price applicable to a consumption window.
package pricing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"energy-recon/internal/reading"
)

// ErrNoPrice is returned when no price is known at all.
var ErrNoPrice = errors.New("pricing: no price available")

// Quote is a resolved price. Estimated marks prices not backed by a
// purchase at or before the queried instant.
type Quote struct {
	PricePerLiter decimal.Decimal
	Estimated     bool
}

// Provider resolves a price per liter for a location at an instant.
type Provider interface {
	PriceAt(ctx context.Context, location string, at time.Time) (Quote, error)
}

// LedgerProvider prices from the purchase ledger: the temporally closest
// purchase at-or-before the instant wins. When only later purchases exist,
// the earliest of them is used and the quote is marked estimated.
type LedgerProvider struct {
	byLocation map[string][]reading.PurchaseEvent
	all        []reading.PurchaseEvent
}

// NewLedgerProvider constructs a provider over ledger events.
func NewLedgerProvider(events []reading.PurchaseEvent) *LedgerProvider {
	p := &LedgerProvider{byLocation: make(map[string][]reading.PurchaseEvent)}
	p.all = make([]reading.PurchaseEvent, len(events))
	copy(p.all, events)
	sort.SliceStable(p.all, func(i, j int) bool {
		return p.all[i].Timestamp().Before(p.all[j].Timestamp())
	})
	for _, ev := range p.all {
		p.byLocation[ev.Location()] = append(p.byLocation[ev.Location()], ev)
	}
	return p
}

// PriceAt resolves the price for a location. An unknown location falls back
// to the whole ledger, since one supplier typically serves every tank.
func (p *LedgerProvider) PriceAt(ctx context.Context, location string, at time.Time) (Quote, error) {
	_ = ctx
	events := p.byLocation[location]
	if len(events) == 0 {
		events = p.all
	}
	if len(events) == 0 {
		return Quote{}, ErrNoPrice
	}

	var latestBefore *reading.PurchaseEvent
	for i := range events {
		if !events[i].Timestamp().After(at) {
			latestBefore = &events[i]
		}
	}
	if latestBefore != nil {
		return Quote{PricePerLiter: latestBefore.PricePerLiter()}, nil
	}
	return Quote{PricePerLiter: events[0].PricePerLiter(), Estimated: true}, nil
}

// FixedProvider returns one configured price, always marked estimated.
// It backs the ledger provider when the ledger is empty.
type FixedProvider struct {
	price decimal.Decimal
}

// NewFixedProvider constructs the provider.
func NewFixedProvider(price decimal.Decimal) (*FixedProvider, error) {
	if price.IsNegative() {
		return nil, errors.New("pricing: negative fixed price")
	}
	return &FixedProvider{price: price}, nil
}

// PriceAt returns the configured price.
func (p *FixedProvider) PriceAt(ctx context.Context, location string, at time.Time) (Quote, error) {
	_ = ctx
	_ = location
	_ = at
	return Quote{PricePerLiter: p.price, Estimated: true}, nil
}

// Chain tries providers in order until one resolves.
type Chain []Provider

// PriceAt resolves from the first provider that has a price.
func (c Chain) PriceAt(ctx context.Context, location string, at time.Time) (Quote, error) {
	for _, p := range c {
		quote, err := p.PriceAt(ctx, location, at)
		if err == nil {
			return quote, nil
		}
		if !errors.Is(err, ErrNoPrice) {
			return Quote{}, err
		}
	}
	return Quote{}, ErrNoPrice
}
