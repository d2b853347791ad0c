package aggregate

import (
	"errors"
	"sort"
	"time"

	"energy-recon/internal/reading"
	"energy-recon/internal/reconcile"
)

var ErrRejectedReading = errors.New("aggregate: rejected reading reached aggregator")

// Aggregate groups validated readings into buckets of the given
// granularity. Buckets with zero contributing samples are omitted.
// Output is ordered by subject, then bucket start.
func Aggregate(rs []reading.Reading, g Granularity) ([]Period, error) {
	if !g.IsValid() {
		return nil, ErrInvalidGranularity
	}

	type key struct {
		subject string
		metric  reading.Metric
		start   time.Time
	}
	type acc struct {
		sum   float64
		peak  float64
		count int
	}

	buckets := make(map[key]*acc)
	for _, r := range rs {
		if r.Quality() == reading.QualityRejected {
			return nil, ErrRejectedReading
		}
		start, err := BucketStart(g, r.Timestamp())
		if err != nil {
			return nil, err
		}
		k := key{subject: r.SourceID(), metric: r.Metric(), start: start}
		a := buckets[k]
		if a == nil {
			a = &acc{peak: r.Value()}
			buckets[k] = a
		}
		a.sum += r.Value()
		a.count++
		if r.Value() > a.peak {
			a.peak = r.Value()
		}
	}

	out := make([]Period, 0, len(buckets))
	for k, a := range buckets {
		p, err := NewPeriod(k.subject, k.metric, g, k.start, a.sum, a.sum/float64(a.count), a.peak, a.count)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortPeriods(out)
	return out, nil
}

// Rollup derives coarser buckets from daily ones instead of re-scanning
// raw readings, so every granularity shares one source of truth and the
// cost stays proportional to the bucket count.
func Rollup(daily []Period, g Granularity) ([]Period, error) {
	if g != GranularityWeek && g != GranularityMonth {
		return nil, ErrInvalidGranularity
	}

	type key struct {
		subject string
		metric  reading.Metric
		start   time.Time
	}
	type acc struct {
		sum   float64
		peak  float64
		count int
	}

	buckets := make(map[key]*acc)
	for _, d := range daily {
		if d.Granularity() != GranularityDay {
			return nil, ErrInvalidGranularity
		}
		start, err := BucketStart(g, d.Start())
		if err != nil {
			return nil, err
		}
		k := key{subject: d.SubjectID(), metric: d.Metric(), start: start}
		a := buckets[k]
		if a == nil {
			a = &acc{peak: d.Peak()}
			buckets[k] = a
		}
		a.sum += d.Sum()
		a.count += d.SampleCount()
		if d.Peak() > a.peak {
			a.peak = d.Peak()
		}
	}

	out := make([]Period, 0, len(buckets))
	for k, a := range buckets {
		p, err := NewPeriod(k.subject, k.metric, g, k.start, a.sum, a.sum/float64(a.count), a.peak, a.count)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortPeriods(out)
	return out, nil
}

// DifferenceCumulative turns a monotone meter counter into per-interval
// consumption readings, each stamped at the later endpoint.
func DifferenceCumulative(rs []reading.Reading) ([]reading.Reading, error) {
	sorted := make([]reading.Reading, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp().Before(sorted[j].Timestamp())
	})

	var out []reading.Reading
	for i := 1; i < len(sorted); i++ {
		delta := sorted[i].Value() - sorted[i-1].Value()
		if delta < 0 {
			// The validator rejects decreases for cumulative sources.
			return nil, ErrRejectedReading
		}
		r, err := reading.New(sorted[i].SourceID(), sorted[i].Metric(), sorted[i].Timestamp(), delta)
		if err != nil {
			return nil, err
		}
		v, err := r.WithQuality(sorted[i].Quality())
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FromRecords summarizes reconciled consumption into daily buckets: a
// liters series and a cost series per subject.
func FromRecords(records []reconcile.Record, subjectID string) (liters, cost []Period, err error) {
	type acc struct {
		liters, cost, peakLiters, peakCost float64
		count                              int
	}
	buckets := make(map[time.Time]*acc)
	for _, rec := range records {
		start, err := BucketStart(GranularityDay, rec.PeriodStart())
		if err != nil {
			return nil, nil, err
		}
		a := buckets[start]
		if a == nil {
			a = &acc{}
			buckets[start] = a
		}
		c, _ := rec.Cost().Float64()
		a.liters += rec.LitersConsumed()
		a.cost += c
		a.count++
		if rec.LitersConsumed() > a.peakLiters {
			a.peakLiters = rec.LitersConsumed()
		}
		if c > a.peakCost {
			a.peakCost = c
		}
	}

	for start, a := range buckets {
		lp, err := NewPeriod(subjectID, reading.MetricFuelLevel, GranularityDay, start, a.liters, a.liters/float64(a.count), a.peakLiters, a.count)
		if err != nil {
			return nil, nil, err
		}
		cp, err := NewPeriod(subjectID, reading.MetricCostZAR, GranularityDay, start, a.cost, a.cost/float64(a.count), a.peakCost, a.count)
		if err != nil {
			return nil, nil, err
		}
		liters = append(liters, lp)
		cost = append(cost, cp)
	}
	sortPeriods(liters)
	sortPeriods(cost)
	return liters, cost, nil
}

func sortPeriods(ps []Period) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].SubjectID() != ps[j].SubjectID() {
			return ps[i].SubjectID() < ps[j].SubjectID()
		}
		if ps[i].Metric() != ps[j].Metric() {
			return ps[i].Metric() < ps[j].Metric()
		}
		return ps[i].Start().Before(ps[j].Start())
	})
}
