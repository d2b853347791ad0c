// Package reconcile cross-validates independent fuel consumption estimates.
package reconcile

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"energy-recon/internal/pricing"
	"energy-recon/internal/reading"
)

// DefaultTolerance is the relative disagreement allowed between sensor and
// ledger estimates before confidence drops.
const DefaultTolerance = 0.10

var (
	ErrNilPriceProvider = errors.New("reconcile: nil price provider")
	ErrInvalidPeriod    = errors.New("reconcile: invalid period")
)

// Period is one analysis window, start inclusive, end exclusive.
type Period struct {
	Start time.Time
	End   time.Time
}

// Periods cuts [start, end) into consecutive windows of the given step.
func Periods(start, end time.Time, step time.Duration) []Period {
	if step <= 0 || !end.After(start) {
		return nil
	}
	var out []Period
	for cur := start; cur.Before(end); cur = cur.Add(step) {
		stop := cur.Add(step)
		if stop.After(end) {
			stop = end
		}
		out = append(out, Period{Start: cur, End: stop})
	}
	return out
}

// Input bundles the validated series the engine reconciles. Reported is
// the externally reported consumption series (liters per reading) and may
// be empty.
type Input struct {
	Location   string
	FuelLevels []reading.Reading
	Purchases  []reading.PurchaseEvent
	Reported   []reading.Reading
}

// Engine produces confidence-scored consumption records per period.
type Engine struct {
	prices    pricing.Provider
	tolerance float64

	// refillSpan spreads one purchase across periods proportionally when
	// it is configured longer than a period. Zero allocates each purchase
	// wholly to the period containing its timestamp.
	refillSpan time.Duration
}

// Option configures the engine.
type Option func(*Engine)

// WithTolerance overrides the relative agreement tolerance.
func WithTolerance(tolerance float64) Option {
	return func(e *Engine) {
		if tolerance > 0 {
			e.tolerance = tolerance
		}
	}
}

// WithRefillSpan spreads purchase volumes over the given span.
func WithRefillSpan(span time.Duration) Option {
	return func(e *Engine) {
		if span > 0 {
			e.refillSpan = span
		}
	}
}

// NewEngine constructs an engine.
func NewEngine(prices pricing.Provider, opts ...Option) (*Engine, error) {
	if prices == nil {
		return nil, ErrNilPriceProvider
	}
	e := &Engine{prices: prices, tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Reconcile computes records for every period with at least one estimate.
// Periods where no estimate exists are omitted, never emitted as zero.
func (e *Engine) Reconcile(ctx context.Context, in Input, periods []Period) ([]Record, error) {
	levels := sortedByTime(in.FuelLevels)
	reported := sortedByTime(in.Reported)

	var out []Record
	for _, p := range periods {
		if !p.End.After(p.Start) {
			return nil, ErrInvalidPeriod
		}
		rec, ok, err := e.reconcilePeriod(ctx, in, p, levels, reported)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (e *Engine) reconcilePeriod(ctx context.Context, in Input, p Period, levels, reported []reading.Reading) (Record, bool, error) {
	sensor := e.sensorDelta(levels, in.Purchases, p)
	ledger := e.ledgerImplied(in.Purchases, p)
	ext := reportedSum(reported, p)

	rec := Record{
		periodStart: p.Start,
		periodEnd:   p.End,
		sensor:      sensor,
		ledger:      ledger,
		reported:    ext,
	}

	switch {
	case sensor.OK && ledger.OK:
		if withinTolerance(sensor.Liters, ledger.Liters, e.tolerance) {
			rec.confidence = ConfidenceHigh
			// Sensor wins: finer granularity than ledger allocation.
			rec.litersConsumed = sensor.Liters
		} else {
			rec.confidence = ConfidenceLow
			rec.litersConsumed = (sensor.Liters + ledger.Liters) / 2
			rec.flaggedForReview = true
		}
	case sensor.OK:
		rec.confidence = ConfidenceMedium
		rec.litersConsumed = sensor.Liters
	case ledger.OK:
		rec.confidence = ConfidenceMedium
		rec.litersConsumed = ledger.Liters
	case ext.OK:
		rec.confidence = ConfidenceMedium
		rec.litersConsumed = ext.Liters
	default:
		return Record{}, false, nil
	}

	quote, err := e.prices.PriceAt(ctx, in.Location, p.Start)
	switch {
	case errors.Is(err, pricing.ErrNoPrice):
		rec.cost = decimal.Zero
		rec.priceEstimated = true
	case err != nil:
		return Record{}, false, err
	default:
		rec.cost = quote.PricePerLiter.Mul(decimal.NewFromFloat(rec.litersConsumed))
		rec.priceEstimated = quote.Estimated
	}

	return rec, true, nil
}

// sensorDelta estimates consumption from the drop in fuel level across the
// period. Refills inside the window mask consumption, so their volume is
// added back before taking the delta.
func (e *Engine) sensorDelta(levels []reading.Reading, purchases []reading.PurchaseEvent, p Period) Estimate {
	var first, last *reading.Reading
	for i := range levels {
		ts := levels[i].Timestamp()
		if ts.Before(p.Start) || !ts.Before(p.End) {
			continue
		}
		if first == nil {
			first = &levels[i]
		}
		last = &levels[i]
	}
	if first == nil || last == nil || !last.Timestamp().After(first.Timestamp()) {
		return Estimate{}
	}

	var refilled float64
	for _, ev := range purchases {
		ts := ev.Timestamp()
		if !ts.Before(first.Timestamp()) && ts.Before(last.Timestamp()) {
			refilled += ev.Liters()
		}
	}

	liters := first.Value() + refilled - last.Value()
	if liters < 0 {
		// A rise beyond known refills means an unrecorded delivery;
		// the sensor cannot price it, so no estimate.
		return Estimate{}
	}
	return Estimate{Liters: liters, OK: true}
}

// ledgerImplied estimates consumption from purchase volumes allocated to
// the period, proportionally by overlap when a refill span is configured.
func (e *Engine) ledgerImplied(purchases []reading.PurchaseEvent, p Period) Estimate {
	var liters float64
	found := false
	for _, ev := range purchases {
		if e.refillSpan <= 0 {
			ts := ev.Timestamp()
			if !ts.Before(p.Start) && ts.Before(p.End) {
				liters += ev.Liters()
				found = true
			}
			continue
		}

		spanStart := ev.Timestamp()
		spanEnd := spanStart.Add(e.refillSpan)
		overlap := overlapDuration(spanStart, spanEnd, p.Start, p.End)
		if overlap <= 0 {
			continue
		}
		liters += ev.Liters() * float64(overlap) / float64(e.refillSpan)
		found = true
	}
	if !found {
		return Estimate{}
	}
	return Estimate{Liters: liters, OK: true}
}

func reportedSum(reported []reading.Reading, p Period) Estimate {
	var liters float64
	found := false
	for _, r := range reported {
		ts := r.Timestamp()
		if !ts.Before(p.Start) && ts.Before(p.End) {
			liters += r.Value()
			found = true
		}
	}
	if !found {
		return Estimate{}
	}
	return Estimate{Liters: liters, OK: true}
}

func withinTolerance(a, b, tolerance float64) bool {
	base := math.Max(math.Abs(a), math.Abs(b))
	if base == 0 {
		return true
	}
	return math.Abs(a-b) <= tolerance*base
}

func overlapDuration(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	return end.Sub(start)
}

func sortedByTime(rs []reading.Reading) []reading.Reading {
	out := make([]reading.Reading, len(rs))
	copy(out, rs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp().Before(out[j].Timestamp())
	})
	return out
}
