// Package validate applies per-source plausibility rules to readings.
package validate

import (
	"errors"
	"sort"
	"time"

	"energy-recon/internal/reading"
)

// ErrSourceUnusable is returned when a source yields zero valid readings.
var ErrSourceUnusable = errors.New("validate: source yields no valid readings")

// Reason classifies why a reading was rejected.
type Reason string

const (
	ReasonOutOfRange           Reason = "OutOfRange"
	ReasonDuplicateWindow      Reason = "DuplicateWindow"
	ReasonNonMonotonicDecrease Reason = "NonMonotonicDecrease"
)

// Rule is the declared plausibility rule set for one source.
type Rule struct {
	// Min/Max bound plausible values, e.g. fuel level within tank
	// capacity, power non-negative and below rated capacity.
	Min float64
	Max float64

	// MinInterval merges readings closer together than this by keeping
	// the latest. Zero disables the duplicate window.
	MinInterval time.Duration

	// Monotonic rejects decreases, for cumulative meter counters.
	Monotonic bool
}

// AuditEntry retains a rejected reading with its reason. Rejected readings
// are excluded from every downstream stage but never discarded.
type AuditEntry struct {
	Reading reading.Reading
	Reason  Reason
}

// Result is the outcome of validating one source.
type Result struct {
	Valid []reading.Reading
	Audit []AuditEntry
}

// Apply validates readings against the rule. Output readings carry
// quality "validated" and are ordered by timestamp. A single bad reading
// is never fatal; an entirely unusable source is.
func Apply(rs []reading.Reading, rule Rule) (Result, error) {
	if len(rs) == 0 {
		return Result{}, ErrSourceUnusable
	}

	sorted := make([]reading.Reading, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp().Before(sorted[j].Timestamp())
	})

	var res Result
	for _, r := range sorted {
		if r.Value() < rule.Min || r.Value() > rule.Max {
			res.Audit = append(res.Audit, rejected(r, ReasonOutOfRange))
			continue
		}
		if rule.Monotonic && len(res.Valid) > 0 {
			prev := res.Valid[len(res.Valid)-1]
			if r.Value() < prev.Value() {
				res.Audit = append(res.Audit, rejected(r, ReasonNonMonotonicDecrease))
				continue
			}
		}
		if rule.MinInterval > 0 && len(res.Valid) > 0 {
			prev := res.Valid[len(res.Valid)-1]
			if r.Timestamp().Sub(prev.Timestamp()) < rule.MinInterval {
				// Same observation window: keep the latest.
				res.Valid = res.Valid[:len(res.Valid)-1]
				res.Audit = append(res.Audit, rejected(prev, ReasonDuplicateWindow))
			}
		}
		v, err := r.WithQuality(reading.QualityValidated)
		if err != nil {
			return Result{}, err
		}
		res.Valid = append(res.Valid, v)
	}

	if len(res.Valid) == 0 {
		return res, ErrSourceUnusable
	}
	return res, nil
}

func rejected(r reading.Reading, reason Reason) AuditEntry {
	rej, _ := r.WithQuality(reading.QualityRejected)
	return AuditEntry{Reading: rej, Reason: reason}
}
