// Package invoice derives billable units per location and billing period.
package invoice

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnitSource records where an invoice's units came from.
type UnitSource string

const (
	UnitSourceAggregated UnitSource = "aggregated"
	UnitSourceOverridden UnitSource = "manually_overridden"
)

var (
	ErrInvalidBillingPeriod = errors.New("invoice: invalid billing period")
	ErrUnknownLocation      = errors.New("invoice: override for unknown location")
	ErrNegativeUnits        = errors.New("invoice: negative units")
)

// Clock provides generation time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns current time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant, for reproducible regeneration.
type FixedClock struct{ At time.Time }

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time { return c.At }

// Override is an operator-supplied unit figure. It fully replaces the
// aggregated value for its location and period; it never blends.
type Override struct {
	Location      string
	BillingPeriod time.Time
	Units         float64
}

// Tariff is the per-unit cost model applied to billable units.
type Tariff struct {
	EnergyRateZAR    decimal.Decimal // per kWh
	ServiceChargeZAR decimal.Decimal // flat per invoice
	VATPercent       decimal.Decimal
}

// Record is one reproducible invoice line for a location and period.
// Regenerating with unchanged inputs and an unchanged clock yields an
// identical record, since invoices are re-derivable reports.
type Record struct {
	id            string
	billingPeriod time.Time
	location      string
	units         float64
	unitSource    UnitSource

	energyCost    decimal.Decimal
	serviceCharge decimal.Decimal
	vat           decimal.Decimal
	total         decimal.Decimal

	generatedAt time.Time
}

// ID returns the deterministic invoice id.
func (r Record) ID() string { return r.id }

// BillingPeriod returns the invoicing month start.
func (r Record) BillingPeriod() time.Time { return r.billingPeriod }

// Location returns the billed site.
func (r Record) Location() string { return r.location }

// Units returns the billable consumption units.
func (r Record) Units() float64 { return r.units }

// UnitSource reports whether units were aggregated or overridden.
func (r Record) UnitSource() UnitSource { return r.unitSource }

// EnergyCost returns units times the energy rate.
func (r Record) EnergyCost() decimal.Decimal { return r.energyCost }

// ServiceCharge returns the flat charge.
func (r Record) ServiceCharge() decimal.Decimal { return r.serviceCharge }

// VAT returns the tax portion.
func (r Record) VAT() decimal.Decimal { return r.vat }

// Total returns the invoice total.
func (r Record) Total() decimal.Decimal { return r.total }

// GeneratedAt returns the generation instant.
func (r Record) GeneratedAt() time.Time { return r.generatedAt }

// Calculator builds invoice records from aggregated units plus overrides.
type Calculator struct {
	tariff Tariff
	clock  Clock
}

// NewCalculator constructs a calculator.
func NewCalculator(tariff Tariff, clock Clock) (*Calculator, error) {
	if tariff.EnergyRateZAR.IsNegative() || tariff.ServiceChargeZAR.IsNegative() || tariff.VATPercent.IsNegative() {
		return nil, errors.New("invoice: negative tariff component")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Calculator{tariff: tariff, clock: clock}, nil
}

// Inputs are everything an invoice run depends on.
type Inputs struct {
	// BillingPeriod is the month start in the canonical zone.
	BillingPeriod time.Time
	// UnitsByLocation holds aggregated consumption per location.
	UnitsByLocation map[string]float64
	Overrides       []Override
}

// Generate produces one record per location, ordered by location name.
// An override for a location in the period wins whole over the aggregate.
func (c *Calculator) Generate(in Inputs) ([]Record, error) {
	if in.BillingPeriod.IsZero() || in.BillingPeriod.Day() != 1 {
		return nil, ErrInvalidBillingPeriod
	}

	overrideFor := make(map[string]Override)
	for _, o := range in.Overrides {
		if !o.BillingPeriod.Equal(in.BillingPeriod) {
			continue
		}
		if _, ok := in.UnitsByLocation[o.Location]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, o.Location)
		}
		overrideFor[o.Location] = o
	}

	locations := make([]string, 0, len(in.UnitsByLocation))
	for loc := range in.UnitsByLocation {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	now := c.clock.Now()
	out := make([]Record, 0, len(locations))
	for _, loc := range locations {
		units := in.UnitsByLocation[loc]
		source := UnitSourceAggregated
		if o, ok := overrideFor[loc]; ok {
			units = o.Units
			source = UnitSourceOverridden
		}
		if units < 0 {
			return nil, fmt.Errorf("%w: %q", ErrNegativeUnits, loc)
		}

		energyCost := c.tariff.EnergyRateZAR.Mul(decimal.NewFromFloat(units)).Round(2)
		subtotal := energyCost.Add(c.tariff.ServiceChargeZAR)
		vat := subtotal.Mul(c.tariff.VATPercent).Div(decimal.NewFromInt(100)).Round(2)

		out = append(out, Record{
			id:            recordID(in.BillingPeriod, loc),
			billingPeriod: in.BillingPeriod,
			location:      loc,
			units:         units,
			unitSource:    source,
			energyCost:    energyCost,
			serviceCharge: c.tariff.ServiceChargeZAR,
			vat:           vat,
			total:         subtotal.Add(vat),
			generatedAt:   now,
		})
	}
	return out, nil
}

// recordID is deterministic so regeneration reproduces the same invoice.
func recordID(period time.Time, location string) string {
	slug := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(location), " ", "-"))
	return fmt.Sprintf("INV-%s-%s", period.Format("200601"), slug)
}
