package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

// Confidence is the trust level of a reconciled value.
type Confidence string

const (
	// ConfidenceHigh: sensor and ledger estimates agree within tolerance.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium: only one estimate was available.
	ConfidenceMedium Confidence = "medium"
	// ConfidenceLow: estimates disagree beyond tolerance.
	ConfidenceLow Confidence = "low"
)

// Estimate is one independent consumption figure for a period.
type Estimate struct {
	Liters float64
	OK     bool
}

// Record is a confidence-scored consumption figure for one period.
// Created only by the engine; downstream stages consume it as-is.
// Invariants:
// 1) A disagreeing record is flagged for review, never dropped.
// 2) The underlying estimates are retained for the run manifest.
type Record struct {
	periodStart time.Time
	periodEnd   time.Time

	litersConsumed float64
	cost           decimal.Decimal
	confidence     Confidence

	sensor   Estimate
	ledger   Estimate
	reported Estimate

	priceEstimated   bool
	flaggedForReview bool
}

// PeriodStart returns the inclusive window start.
func (r Record) PeriodStart() time.Time { return r.periodStart }

// PeriodEnd returns the exclusive window end.
func (r Record) PeriodEnd() time.Time { return r.periodEnd }

// LitersConsumed returns the reconciled consumption.
func (r Record) LitersConsumed() float64 { return r.litersConsumed }

// Cost returns the fuel cost attributed to the window.
func (r Record) Cost() decimal.Decimal { return r.cost }

// Confidence returns the trust level.
func (r Record) Confidence() Confidence { return r.confidence }

// SensorEstimate returns the fuel-level delta estimate.
func (r Record) SensorEstimate() Estimate { return r.sensor }

// LedgerEstimate returns the purchase-implied estimate.
func (r Record) LedgerEstimate() Estimate { return r.ledger }

// ReportedEstimate returns the externally reported estimate.
func (r Record) ReportedEstimate() Estimate { return r.reported }

// PriceEstimated reports whether the cost used a price not backed by a
// purchase at or before the window.
func (r Record) PriceEstimated() bool { return r.priceEstimated }

// FlaggedForReview reports whether the record needs operator attention.
func (r Record) FlaggedForReview() bool { return r.flaggedForReview }
